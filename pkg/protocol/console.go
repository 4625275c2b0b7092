package protocol

// ConsoleCall is one forwarded console call. Args is the serialized
// argument list, opaque to the protocol.
type ConsoleCall struct {
	Channel string
	Args    []byte
}

// ConsoleBatch is every console call of one runtime tick, in call order.
type ConsoleBatch struct {
	Calls []ConsoleCall
}

// EncodeConsole encodes a ConsoleBatch.
func EncodeConsole(b *ConsoleBatch) []byte {
	e := NewEncoder()
	e.WriteUvarint(uint64(len(b.Calls)))
	for _, c := range b.Calls {
		e.WriteString(c.Channel)
		e.WriteLenBytes(c.Args)
	}
	return e.Bytes()
}

// DecodeConsole decodes a ConsoleBatch.
func DecodeConsole(data []byte) (*ConsoleBatch, error) {
	d := NewDecoder(data)
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	b := &ConsoleBatch{}
	if count > 0 {
		b.Calls = make([]ConsoleCall, count)
	}
	for i := range b.Calls {
		if b.Calls[i].Channel, err = d.ReadString(); err != nil {
			return nil, err
		}
		if b.Calls[i].Args, err = d.ReadLenBytes(); err != nil {
			return nil, err
		}
	}
	return b, d.Finish()
}
