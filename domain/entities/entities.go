package entities

import (
	"errors"
	"time"
)

// NoAllergen is the allergen value stored for patients without allergies.
const NoAllergen = "none"

// Patient is the record kept for every enrolled patient
type Patient struct {
	ID        string    `json:"patientId" bson:"_id" dynamodbav:"patientId"`
	Name      string    `json:"name" bson:"name" dynamodbav:"name"`
	Allergen  string    `json:"allergen" bson:"allergen" dynamodbav:"allergen"`
	ImageURL  string    `json:"imageUrl" bson:"image_url" dynamodbav:"imageUrl"`
	ImageKey  string    `json:"s3File" bson:"image_key" dynamodbav:"s3File"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" dynamodbav:"createdAt"`
}

// HasAllergy reports whether the patient has a recorded allergen
func (p *Patient) HasAllergy() bool {
	return p.Allergen != "" && p.Allergen != NoAllergen
}

// User represents a clinician allowed to log in
type User struct {
	Username string `json:"username" bson:"_id" dynamodbav:"username"`
	Name     string `json:"name" bson:"name" dynamodbav:"name"`
	Email    string `json:"email" bson:"email" dynamodbav:"email"`
	ImageURL string `json:"imageUrl,omitempty" bson:"image_url,omitempty" dynamodbav:"imageUrl,omitempty"`
}

// FaceMatch is the transient result of one face-similarity lookup.
// ExternalID is empty when nothing matched.
type FaceMatch struct {
	ExternalID string  `json:"external_id"`
	Confidence float64 `json:"confidence"`
}

// Found reports whether the lookup resolved to a known identity
func (m FaceMatch) Found() bool {
	return m.ExternalID != ""
}

// Domain validation methods
func (p *Patient) Validate() error {
	if p.ID == "" {
		return errors.New("patient id is required")
	}
	if p.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func (u *User) Validate() error {
	if u.Username == "" {
		return errors.New("username is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	return nil
}
