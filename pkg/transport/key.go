package transport

import "fmt"

// Parity mirrors the three parity settings a Modbus RTU line can use.
type Parity string

const (
	ParityNone Parity = "none"
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// SerialParams is the canonicalized set of RTU line parameters. Field order
// is fixed so a value can key a map without a custom hash.
type SerialParams struct {
	BaudRate int
	Parity   Parity
	DataBits int
	StopBits int
}

func (p SerialParams) String() string {
	return fmt.Sprintf("%d-%s-%d-%d", p.BaudRate, p.Parity, p.DataBits, p.StopBits)
}

// Kind distinguishes the physical transport a Bus Key identifies.
type Kind string

const (
	KindRTU Kind = "rtu"
	KindTCP Kind = "tcp"
)

// Key is the canonical identity of one physical Modbus bus. The slave id is
// deliberately not part of the key: many logical devices on the same wire
// share one Bus Client.
type Key struct {
	Kind Kind

	// RTU fields.
	Port   string
	Serial SerialParams

	// TCP fields.
	Host    string
	TCPPort int
}

// NewRTUKey builds the Bus Key for an RTU line.
func NewRTUKey(port string, serial SerialParams) Key {
	return Key{Kind: KindRTU, Port: port, Serial: serial}
}

// NewTCPKey builds the Bus Key for a TCP connection.
func NewTCPKey(host string, port int) Key {
	return Key{Kind: KindTCP, Host: host, TCPPort: port}
}

func (k Key) String() string {
	switch k.Kind {
	case KindRTU:
		return fmt.Sprintf("rtu(%s,%s)", k.Port, k.Serial)
	case KindTCP:
		return fmt.Sprintf("tcp(%s:%d)", k.Host, k.TCPPort)
	default:
		return "unknown-bus"
	}
}
