package enrichment

import (
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
)

// Enrichment keys written by CustomerApplier.
const (
	KeyCustomerName   = "customerName"
	KeyCustomerPlan   = "customerPlan"
	KeyCustomerRegion = "customerRegion"
)

// CustomerProfile is the customer document the subject attribute refers to.
type CustomerProfile struct {
	CustomerID string `json:"customerId" firestore:"customer_id" mapstructure:"customer_id"`
	Name       string `json:"name" firestore:"name" mapstructure:"name"`
	Plan       string `json:"plan,omitempty" firestore:"plan" mapstructure:"plan"`
	Region     string `json:"region,omitempty" firestore:"region" mapstructure:"region"`
}

// SubjectKey uses the envelope's subject attribute, which carries the
// customer identifier.
func SubjectKey(rec *messagepipeline.EventRecord) (string, bool) {
	if rec.Subject == "" {
		return "", false
	}
	return rec.Subject, true
}

// CustomerApplier records the profile fields that are set.
func CustomerApplier(rec *messagepipeline.EventRecord, p CustomerProfile) {
	if p.Name != "" {
		rec.EnrichmentData[KeyCustomerName] = p.Name
	}
	if p.Plan != "" {
		rec.EnrichmentData[KeyCustomerPlan] = p.Plan
	}
	if p.Region != "" {
		rec.EnrichmentData[KeyCustomerRegion] = p.Region
	}
}
