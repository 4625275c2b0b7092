package errors

import (
	stderrors "errors"

	"github.com/vango-dev/hmr/internal/history"
	"github.com/vango-dev/hmr/pkg/client"
	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
)

// FromRuntime translates an error returned by the runtime, the client or
// the history store into a coded HMRError. Unrecognised errors are wrapped
// as H006 so that nothing is printed without a code.
func FromRuntime(err error) *HMRError {
	if err == nil {
		return nil
	}
	var he *HMRError
	if stderrors.As(err, &he) {
		return he
	}

	var (
		se  *client.SymbolError
		de  *hmr.DecodeError
		le  *hmr.LoadError
		ge  *hmr.GenerationError
		hse *client.HandshakeError
	)
	var out *HMRError
	switch {
	case stderrors.As(err, &se):
		out = New("H010").WithModule(string(se.ID))
	case stderrors.As(err, &de):
		out = New("H001").WithModule(string(de.ID))
	case stderrors.As(err, &ge):
		out = New("H007").WithGeneration(ge.Got)
	case stderrors.Is(err, hmr.ErrModuleNotFound):
		out = New("H002")
	case stderrors.Is(err, hmr.ErrNotInitialized):
		out = New("H003")
	case stderrors.Is(err, hmr.ErrNoExport):
		out = New("H004")
	case stderrors.Is(err, hmr.ErrWouldSuspend):
		out = New("H005")
	case stderrors.Is(err, hmr.ErrUpdateInProgress):
		out = New("H008")
	case stderrors.Is(err, hmr.ErrClosed):
		out = New("H009")
	case stderrors.Is(err, history.ErrGap):
		out = New("H012")
	case stderrors.As(err, &hse), stderrors.Is(err, client.ErrProtocolMismatch):
		out = New("H011")
	default:
		out = New("H006")
	}
	if out.Location == nil && stderrors.As(err, &le) {
		out.WithModule(string(le.ID))
	}
	return out.Wrap(err)
}

// wireCodes maps wire error codes to registry codes.
var wireCodes = map[protocol.ErrorCode]string{
	protocol.ErrDecode:          "H001",
	protocol.ErrModuleNotFound:  "H002",
	protocol.ErrLoad:            "H006",
	protocol.ErrStaleGeneration: "H007",
	protocol.ErrUnknownSymbol:   "H010",
}

// FromWire translates an error reported by a client.
func FromWire(em *protocol.ErrorMessage) *HMRError {
	code, ok := wireCodes[em.Code]
	var out *HMRError
	if ok {
		out = New(code)
	} else {
		out = Newf(CategoryUpdate, "%s", em.Code.String())
	}
	out.WithDetail(em.Message).WithModule(em.Module)
	if em.Generation != 0 {
		out.WithGeneration(em.Generation)
	}
	return out
}
