package rest

// Authentication types

// CredentialsRequest is the request body for signup and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse contains the bearer token returned after authentication.
type TokenResponse struct {
	Token string `json:"token"`
}

// Room types

// RoomInfo is room metadata as listed by GET /rooms. The backend returns an
// object keyed by room ID, so the ID lives in the surrounding map key.
type RoomInfo struct {
	Name string `json:"name"`
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// CreateRoomResponse is the backend's reply to room creation.
type CreateRoomResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// History types

// HistoryRecord is one decoded entry of a room's message history. The SDK
// normally keeps history entries raw and feeds them to the normalizer, but
// the typed form is useful for tooling.
type HistoryRecord struct {
	Username    string `json:"username"`
	Content     string `json:"content"`
	CreatedAt   string `json:"createdAt"`
	MessageType string `json:"messageType,omitempty"`
	ImagePath   string `json:"imagePath,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
