package spec

// Protocol identifies the application-layer protocol a replica speaks.
type Protocol string

const (
	TCP  Protocol = "tcp"
	HTTP Protocol = "http"
	GRPC Protocol = "grpc"
)

// Valid reports whether p is a recognised protocol.
func (p Protocol) Valid() bool {
	switch p {
	case TCP, HTTP, GRPC:
		return true
	}
	return false
}

// Endpoint is a fully resolved, concrete replica address produced at
// runtime. The spec never contains endpoints — they are created when host
// ports are allocated at deploy time.
type Endpoint struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
}
