package protocol

// ErrorCode identifies the type of error.
type ErrorCode uint16

const (
	ErrUnknown         ErrorCode = 0x0000
	ErrInvalidFrame    ErrorCode = 0x0001 // Malformed frame
	ErrDecode          ErrorCode = 0x0002 // Malformed module descriptor
	ErrModuleNotFound  ErrorCode = 0x0003
	ErrLoad            ErrorCode = 0x0004 // Module body failed
	ErrUpdate          ErrorCode = 0x0005 // Update batch failed
	ErrStaleGeneration ErrorCode = 0x0006
	ErrUnknownSymbol   ErrorCode = 0x0007 // Catalog has no such body
	ErrServerError     ErrorCode = 0x0100
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrUnknown:
		return "Unknown"
	case ErrInvalidFrame:
		return "InvalidFrame"
	case ErrDecode:
		return "Decode"
	case ErrModuleNotFound:
		return "ModuleNotFound"
	case ErrLoad:
		return "Load"
	case ErrUpdate:
		return "Update"
	case ErrStaleGeneration:
		return "StaleGeneration"
	case ErrUnknownSymbol:
		return "UnknownSymbol"
	case ErrServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// ErrorMessage reports a load, update or protocol error.
type ErrorMessage struct {
	Code ErrorCode
	// Module is set for load errors.
	Module string
	// Generation is set for update errors.
	Generation uint64
	Message    string
	Fatal      bool
}

// NewLoadError creates the report of a failed module.
func NewLoadError(code ErrorCode, module, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Module: module, Message: message}
}

// NewUpdateError creates the report of a failed update generation.
func NewUpdateError(code ErrorCode, generation uint64, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Generation: generation, Message: message}
}

// NewFatalError creates a fatal protocol error.
func NewFatalError(code ErrorCode, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Message: message, Fatal: true}
}

// EncodeErrorMessage encodes an ErrorMessage.
func EncodeErrorMessage(em *ErrorMessage) []byte {
	e := NewEncoder()
	e.WriteUint16(uint16(em.Code))
	e.WriteString(em.Module)
	e.WriteUvarint(em.Generation)
	e.WriteString(em.Message)
	e.WriteBool(em.Fatal)
	return e.Bytes()
}

// DecodeErrorMessage decodes an ErrorMessage.
func DecodeErrorMessage(data []byte) (*ErrorMessage, error) {
	d := NewDecoder(data)
	em := &ErrorMessage{}

	code, err := d.ReadUint16()
	if err != nil {
		return nil, err
	}
	em.Code = ErrorCode(code)
	if em.Module, err = d.ReadString(); err != nil {
		return nil, err
	}
	if em.Generation, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if em.Message, err = d.ReadString(); err != nil {
		return nil, err
	}
	if em.Fatal, err = d.ReadBool(); err != nil {
		return nil, err
	}
	return em, d.Finish()
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	s := em.Code.String()
	if em.Module != "" {
		s += " " + em.Module
	}
	s += ": " + em.Message
	if em.Fatal {
		return "fatal: " + s
	}
	return s
}
