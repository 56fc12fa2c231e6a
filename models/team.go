package models

import "time"

type Team struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Members   *string   `json:"members,omitempty" db:"members"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
