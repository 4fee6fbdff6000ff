package grpc

type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse carries the token a client presents as a bearer credential to restore its session.
type SessionResponse struct {
	Identity *Identity `json:"identity"`
	Token    string    `json:"token"`
}

type SignOutRequest struct{}

type SignOutResponse struct{}

type GetIdentityRequest struct{}

type GetIdentityResponse struct {
	State         string    `json:"state"`
	Authenticated bool      `json:"authenticated"`
	Identity      *Identity `json:"identity,omitempty"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
}

type AuthorizeRequest struct {
	Path string `json:"path"`
}

type AuthorizeResponse struct {
	Allow    bool              `json:"allow"`
	Redirect string            `json:"redirect,omitempty"`
	Query    map[string]string `json:"query,omitempty"`
}

type Appointment struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Start     *Timestamp `json:"start"`
	End       *Timestamp `json:"end"`
	OwnerID   string     `json:"owner_id"`
	CreatedAt *Timestamp `json:"created_at,omitempty"`
}

type CreateAppointmentRequest struct {
	Title string     `json:"title"`
	Start *Timestamp `json:"start"`
	End   *Timestamp `json:"end"`
}

type CreateAppointmentResponse struct {
	ID string `json:"id"`
}

type ListAppointmentsRequest struct{}

type ListAppointmentsResponse struct {
	Appointments []*Appointment `json:"appointments"`
	Live         bool           `json:"live"`
}

type CheckConflictRequest struct {
	Start *Timestamp `json:"start"`
	End   *Timestamp `json:"end"`
}

type CheckConflictResponse struct {
	Conflict bool `json:"conflict"`
}
