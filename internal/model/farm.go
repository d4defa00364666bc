package model

import (
	"time"

	"github.com/google/uuid"
)

// Gender values accepted for a cow.
const (
	GenderMale    = "MALE"
	GenderFemale  = "FEMALE"
	GenderUnknown = "UNKNOWN"
)

// Farmer owns cows. PasswordHash is a bcrypt verifier; TOTPSecret is
// empty unless the farmer enabled a second factor.
type Farmer struct {
	FarmerID     uuid.UUID `json:"farmer_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TOTPSecret   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Cow is an individually tracked animal owned by exactly one farmer.
type Cow struct {
	CowID       uuid.UUID  `json:"cow_id"`
	FarmerID    uuid.UUID  `json:"farmer_id"`
	Name        string     `json:"name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `json:"gender"`
}

// Pregnancy is one pregnancy record for a cow. TimeEnd is nil while open;
// when set, TimeEnd >= TimeStart.
type Pregnancy struct {
	PregnancyID int64      `json:"pregnancy_id"`
	CowID       uuid.UUID  `json:"cow_id"`
	TimeStart   time.Time  `json:"time_start"`
	TimeEnd     *time.Time `json:"time_end,omitempty"`
}

// RFIDOwnership is one ownership window: the interval during which a tag
// was attributed to a cow. TimeEnd nil = window still open. At most one
// open window exists per tag at any instant.
type RFIDOwnership struct {
	OwnershipID int64      `json:"ownership_id"`
	RFID        string     `json:"rfid_id"`
	CowID       uuid.UUID  `json:"cow_id"`
	TimeStart   time.Time  `json:"time_start"`
	TimeEnd     *time.Time `json:"time_end,omitempty"`
}

// Device is a feeder unit, upserted on every buffer flush.
type Device struct {
	DeviceID string    `json:"device_id"`
	Status   string    `json:"status"` // ONLINE or OFFLINE
	LastIP   string    `json:"last_ip"`
	LastSeen time.Time `json:"last_seen"`
}
