package netagent

// Command is implemented by every outbound command the session agent may
// send to the network agent. Dispatch is a type switch inside the agent's
// single run loop.
type Command interface {
	isCommand()
}

// Dial asks the agent to initiate a connection to a peer's multiaddress.
type Dial struct {
	Addr string
}

// Subscribe asks the agent to join a topic's gossip mesh.
type Subscribe struct {
	Topic string
}

// Unsubscribe asks the agent to leave a topic's gossip mesh.
type Unsubscribe struct {
	Topic string
}

// Publish asks the agent to broadcast data on a topic. Result, if non-nil,
// receives exactly one error (nil on success) before the agent moves on to
// its next queued command — the request/response half of an otherwise
// fire-and-forget command channel.
type Publish struct {
	Topic  string
	Data   []byte
	Result chan<- error
}

// BootstrapDHT asks the agent to (re)trigger a DHT bootstrap round.
type BootstrapDHT struct{}

// Shutdown asks the agent to unsubscribe every topic and terminate.
type Shutdown struct{}

func (Dial) isCommand()         {}
func (Subscribe) isCommand()    {}
func (Unsubscribe) isCommand()  {}
func (Publish) isCommand()      {}
func (BootstrapDHT) isCommand() {}
func (Shutdown) isCommand()     {}
