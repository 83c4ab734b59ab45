package core

import "github.com/SimplyPrint/srix-agent/internal/srix"

// SmartCardContext represents a PC/SC context for listing readers
type SmartCardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error)
	Release() error
}

// SmartCard represents a connected reader for transmitting commands
type SmartCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Control(ioctl uint32, in []byte) ([]byte, error)
	Status() (SmartCardStatus, error)
	Disconnect(disposition uint32) error
}

// SmartCardStatus represents the status of a smart card
type SmartCardStatus struct {
	Reader         string
	State          uint32
	ActiveProtocol uint32
	Atr            []byte
}

// ContextFactory creates SmartCardContext instances
// This allows for dependency injection and mocking in tests
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}

// DefaultContextFactory is the production factory that uses real PC/SC
type DefaultContextFactory struct{}

// Link carries PN532 host commands (D4 ..) to the controller and returns
// its answer (D5 ..). PC/SC and UART readers differ only in their Link.
type Link interface {
	Exchange(cmd []byte) ([]byte, error)
	Close() error
}

// Transport is a tag Transceiver bound to an open reader.
type Transport interface {
	srix.Transceiver
	Close() error
}

// Activator selects a tag in the field and returns its chip id.
type Activator interface {
	Activate() (byte, error)
}
