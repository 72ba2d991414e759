package model

import (
	"time"
)

// Lead tiers, from strongest to weakest.
const (
	TierHot     = "hot"
	TierWarm    = "warm"
	TierNurture = "nurture"
)

// Lead is the terminal projection of a qualified session, handed to the
// notification collaborator exactly once per qualification edge.
type Lead struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"sessionId"`
	Name               string    `json:"name,omitempty"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	Company            string    `json:"company,omitempty"`
	Role               string    `json:"role,omitempty"`
	CompanySize        string    `json:"companySize,omitempty"`
	Timeline           string    `json:"timeline,omitempty"`
	Budget             string    `json:"budget,omitempty"`
	Stakeholders       string    `json:"stakeholders,omitempty"`
	PainPoint          string    `json:"painPoint,omitempty"`
	QualificationScore float64   `json:"qualificationScore"`
	Tier               string    `json:"tier"`
	QualifiedAt        time.Time `json:"qualifiedAt"`
}

// NotificationResult is the best-effort outcome reported by the
// notification collaborator. Delivery failure never unqualifies a lead.
type NotificationResult struct {
	Sent             bool     `json:"sent"`
	SalesEmailSent   bool     `json:"salesEmailSent"`
	WelcomeEmailSent bool     `json:"welcomeEmailSent"`
	Errors           []string `json:"errors"`
}
