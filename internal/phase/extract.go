package phase

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})`)

	affirmativeRe = regexp.MustCompile(`^(yes|yeah|yep|yup|correct|right|exactly|sure|absolutely|that's right|that's correct)`)
	negativeRe    = regexp.MustCompile(`^(no|nope|nah|wrong|incorrect|not right)`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:my name is|i'm|i am|it's|this is|call me)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
		regexp.MustCompile(`^([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)$`),
	}

	companyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)company (?:name )?is ([A-Z][A-Za-z\s&]+)`),
		regexp.MustCompile(`(?i)work (?:at|for) ([A-Z][A-Za-z\s&]+)`),
		regexp.MustCompile(`(?i)(?:I'm|I am) at ([A-Z][A-Za-z\s&]+)`),
		regexp.MustCompile(`(?i)from ([A-Z][A-Za-z\s&]+)`),
	}

	timelineRe  = regexp.MustCompile(`\b(week|month|quarter|year|asap|urgent|soon|within|q[1-4])\b`)
	painPointRe = regexp.MustCompile(`\b(need|looking for|looking to|problem|struggle|automate|challenge)\b`)

	nonDigitRe = regexp.MustCompile(`[^\d]`)
)

// spokenDigits maps number words to digits so phone numbers read aloud by
// the voice channel ("five five five ...") survive transcription.
var spokenDigits = map[string]string{
	"zero": "0", "oh": "0",
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9",
}

// ConvertSpokenDigits rewrites spelled-out digits in text to numerals.
func ConvertSpokenDigits(text string) string {
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		trimmed := strings.Trim(w, ".,!?")
		if d, ok := spokenDigits[trimmed]; ok {
			words[i] = d
		}
	}
	return strings.Join(words, " ")
}

// ExtractEmail returns the first email address in text, lowercased, or "".
func ExtractEmail(text string) string {
	return strings.ToLower(emailRe.FindString(text))
}

// ExtractPhone returns a normalized 10- or 11-digit phone number from
// text, handling spoken digits, or "".
func ExtractPhone(text string) string {
	converted := ConvertSpokenDigits(text)

	if m := phoneRe.FindString(converted); m != "" {
		return nonDigitRe.ReplaceAllString(m, "")
	}

	digits := nonDigitRe.ReplaceAllString(converted, "")
	if len(digits) == 10 || (len(digits) == 11 && digits[0] == '1') {
		return digits
	}
	return ""
}

// FormatPhone renders a normalized number for read-back confirmation.
func FormatPhone(phone string) string {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[0:3], digits[3:6], digits[6:])
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
	}
	return phone
}

// IsAffirmative reports whether the reply confirms the previous question.
func IsAffirmative(text string) bool {
	return affirmativeRe.MatchString(strings.TrimSpace(strings.ToLower(text)))
}

// IsNegative reports whether the reply rejects the previous question.
func IsNegative(text string) bool {
	return negativeRe.MatchString(strings.TrimSpace(strings.ToLower(text)))
}

// ExtractName pulls a person's name from introductions like "I'm Sarah" or
// a bare "Sarah Chen".
func ExtractName(text string) string {
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// ExtractCompany pulls a company name from phrases like "I work at Acme".
func ExtractCompany(text string) string {
	for _, re := range companyPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// MentionsTimeline reports whether text carries scheduling language.
func MentionsTimeline(text string) bool {
	return timelineRe.MatchString(strings.ToLower(text))
}

// MentionsPainPoint reports whether text describes a business need.
func MentionsPainPoint(text string) bool {
	return painPointRe.MatchString(strings.ToLower(text))
}

// intentKeywords mirror the keyword responder's triggers: greetings and
// questions about services, pricing, contact or the company.
var intentKeywords = []string{
	"hello", "hey",
	"service", "offer", "solution",
	"price", "cost", "pricing",
	"contact", "reach", "call",
	"about", "who", "company",
}

// RecognizesIntent reports whether text carries a recognizable greeting
// or question intent. An engaged question is not an unproductive turn.
func RecognizesIntent(text string) bool {
	lower := strings.ToLower(text)
	if lower == "hi" || strings.Contains(lower, "hi ") {
		return true
	}
	for _, kw := range intentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
