package models

// Claims is the identity carried by a verified bearer token. UserID owns every
// cycle the request touches.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Exp      int64  `json:"exp"`
}
