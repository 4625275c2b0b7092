package protocol

// HandshakeStatus is the outcome of a Hello.
type HandshakeStatus uint8

const (
	HandshakeOK              HandshakeStatus = 0x00
	HandshakeVersionMismatch HandshakeStatus = 0x01 // Protocol versions differ
	HandshakeConfigMismatch  HandshakeStatus = 0x02 // Config keys differ, reload
	HandshakeHistoryGap      HandshakeStatus = 0x03 // Missed generations are gone, reload
	HandshakeServerBusy      HandshakeStatus = 0x04
	HandshakeInvalidFormat   HandshakeStatus = 0x05 // Malformed Hello
	HandshakeInternalError   HandshakeStatus = 0x06
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeVersionMismatch:
		return "VersionMismatch"
	case HandshakeConfigMismatch:
		return "ConfigMismatch"
	case HandshakeHistoryGap:
		return "HistoryGap"
	case HandshakeServerBusy:
		return "ServerBusy"
	case HandshakeInvalidFormat:
		return "InvalidFormat"
	case HandshakeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// RequiresReload reports whether the client must reload before it can
// accept updates again.
func (hs HandshakeStatus) RequiresReload() bool {
	return hs == HandshakeConfigMismatch || hs == HandshakeHistoryGap
}

// ProtocolVersion is a major.minor protocol version.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the version this package speaks.
var CurrentVersion = ProtocolVersion{Major: 1, Minor: 0}

// Compatible reports whether two versions can talk to each other.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Hello opens a session.
type Hello struct {
	Version ProtocolVersion
	// ConfigKey is the client's Config.Version.
	ConfigKey string
	// Generation is the last generation the client applied.
	Generation uint64
	// SSR is set by server-side realms.
	SSR bool
}

// NewHello creates a Hello with the current protocol version.
func NewHello(configKey string, generation uint64) *Hello {
	return &Hello{Version: CurrentVersion, ConfigKey: configKey, Generation: generation}
}

// Welcome answers a Hello. Missed generations follow as Update frames
// flagged FlagReplay.
type Welcome struct {
	Status HandshakeStatus
	Config ConfigRecord
	// Replay is the number of Update frames that follow.
	Replay uint32
}

// ConfigRecord is the wire form of the runtime configuration.
type ConfigRecord struct {
	Main             string
	SeparateSSRGraph bool
	RuntimeVersion   string
	Version          string
	Refresh          string
	Roots            []uint32
	Files            []string
	Console          bool
	Generation       uint64
}

// EncodeHello encodes a Hello.
func EncodeHello(h *Hello) []byte {
	e := NewEncoder()
	e.WriteByte(h.Version.Major)
	e.WriteByte(h.Version.Minor)
	e.WriteString(h.ConfigKey)
	e.WriteUvarint(h.Generation)
	e.WriteBool(h.SSR)
	return e.Bytes()
}

// DecodeHello decodes a Hello.
func DecodeHello(data []byte) (*Hello, error) {
	d := NewDecoder(data)
	h := &Hello{}
	var err error

	if h.Version.Major, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if h.Version.Minor, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if h.ConfigKey, err = d.ReadString(); err != nil {
		return nil, err
	}
	if h.Generation, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if h.SSR, err = d.ReadBool(); err != nil {
		return nil, err
	}
	return h, d.Finish()
}

// EncodeWelcome encodes a Welcome.
func EncodeWelcome(w *Welcome) []byte {
	e := NewEncoder()
	e.WriteByte(byte(w.Status))
	encodeConfig(e, &w.Config)
	e.WriteUvarint(uint64(w.Replay))
	return e.Bytes()
}

// DecodeWelcome decodes a Welcome.
func DecodeWelcome(data []byte) (*Welcome, error) {
	d := NewDecoder(data)
	w := &Welcome{}

	status, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	w.Status = HandshakeStatus(status)
	if err := decodeConfig(d, &w.Config); err != nil {
		return nil, err
	}
	replay, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	w.Replay = uint32(replay)
	return w, d.Finish()
}

func encodeConfig(e *Encoder, c *ConfigRecord) {
	e.WriteString(c.Main)
	e.WriteBool(c.SeparateSSRGraph)
	e.WriteString(c.RuntimeVersion)
	e.WriteString(c.Version)
	e.WriteString(c.Refresh)
	e.WriteUvarint(uint64(len(c.Roots)))
	for _, r := range c.Roots {
		e.WriteUvarint(uint64(r))
	}
	e.WriteStrings(c.Files)
	e.WriteBool(c.Console)
	e.WriteUvarint(c.Generation)
}

func decodeConfig(d *Decoder, c *ConfigRecord) error {
	var err error
	if c.Main, err = d.ReadString(); err != nil {
		return err
	}
	if c.SeparateSSRGraph, err = d.ReadBool(); err != nil {
		return err
	}
	if c.RuntimeVersion, err = d.ReadString(); err != nil {
		return err
	}
	if c.Version, err = d.ReadString(); err != nil {
		return err
	}
	if c.Refresh, err = d.ReadString(); err != nil {
		return err
	}
	if c.Roots, err = readIndices(d); err != nil {
		return err
	}
	if c.Files, err = d.ReadStrings(); err != nil {
		return err
	}
	if c.Console, err = d.ReadBool(); err != nil {
		return err
	}
	c.Generation, err = d.ReadUvarint()
	return err
}

func readIndices(d *Decoder) ([]uint32, error) {
	count, err := d.ReadCollectionCount()
	if err != nil || count == 0 {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		if out[i], err = readIndex(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readIndex(d *Decoder) (uint32, error) {
	v, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > MaxFileIndex {
		return 0, ErrIndexTooLarge
	}
	return uint32(v), nil
}
