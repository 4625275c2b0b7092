package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestHelloEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		hello *Hello
	}{
		{name: "fresh", hello: NewHello("abc123", 0)},
		{name: "resume", hello: &Hello{Version: CurrentVersion, ConfigKey: "k", Generation: 1 << 40}},
		{name: "ssr", hello: &Hello{Version: ProtocolVersion{Major: 1, Minor: 9}, SSR: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeHello(EncodeHello(tc.hello))
			if err != nil {
				t.Fatalf("DecodeHello() error = %v", err)
			}
			if *got != *tc.hello {
				t.Errorf("got %+v, want %+v", got, tc.hello)
			}
		})
	}
}

func TestWelcomeEncodeDecode(t *testing.T) {
	w := &Welcome{
		Status: HandshakeOK,
		Config: ConfigRecord{
			Main:             "app/main.js",
			SeparateSSRGraph: true,
			RuntimeVersion:   "1.1.0",
			Version:          "deadbeef",
			Refresh:          "refresh.js",
			Roots:            []uint32{0, 2},
			Files:            []string{"app/main.js", "app/a.js", "app/b.js"},
			Console:          true,
			Generation:       12,
		},
		Replay: 3,
	}

	got, err := DecodeWelcome(EncodeWelcome(w))
	if err != nil {
		t.Fatalf("DecodeWelcome() error = %v", err)
	}
	if !reflect.DeepEqual(got, w) {
		t.Errorf("got %+v, want %+v", got, w)
	}
}

func TestHandshakeStatus(t *testing.T) {
	if !HandshakeHistoryGap.RequiresReload() || !HandshakeConfigMismatch.RequiresReload() {
		t.Error("gap and config mismatch must require a reload")
	}
	if HandshakeOK.RequiresReload() || HandshakeVersionMismatch.RequiresReload() {
		t.Error("unexpected reload requirement")
	}
	if !CurrentVersion.Compatible(ProtocolVersion{Major: CurrentVersion.Major, Minor: 7}) {
		t.Error("minor versions must be compatible")
	}
	if CurrentVersion.Compatible(ProtocolVersion{Major: CurrentVersion.Major + 1}) {
		t.Error("major versions must not be compatible")
	}
}

func TestUpdateEncodeDecode(t *testing.T) {
	u := &UpdateBatch{
		Generation: 7,
		Files:      []FileEntry{{Index: 3, ID: "app/new.js"}},
		AddedRoots: []uint32{3},
		Modules: []ModuleRecord{
			{ID: "app/old.js", Kind: ModuleMaterialized},
			{
				ID:     "app/a.js",
				Kind:   ModuleESM,
				Symbol: "app/a.js#load",
				Deps: []DepRef{
					{ID: "app/b.js"},
					{ID: "app/c.cjs"},
					{Back: true, Index: 0},
				},
				ExportKeys:  []string{"default", "helper"},
				StarImports: []string{"app/c.cjs"},
				Async:       true,
			},
			{ID: "app/c.cjs", Kind: ModuleCommonJS, Symbol: "app/c.cjs#body"},
		},
	}

	got, err := DecodeUpdate(EncodeUpdate(u))
	if err != nil {
		t.Fatalf("DecodeUpdate() error = %v", err)
	}
	if !reflect.DeepEqual(got, u) {
		t.Errorf("got %+v\nwant %+v", got, u)
	}
}

func TestDecodeUpdateErrors(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(1) // generation
	e.WriteUvarint(0) // files
	e.WriteUvarint(0) // roots
	e.WriteUvarint(1) // modules
	e.WriteString("a.js")
	e.WriteByte(0x09)

	_, err := DecodeUpdate(e.Bytes())
	if !errors.Is(err, ErrInvalidModuleKind) {
		t.Errorf("error = %v, want ErrInvalidModuleKind", err)
	}

	for name, u := range map[string]*UpdateBatch{
		"file":  {Generation: 2, Files: []FileEntry{{Index: MaxFileIndex + 1, ID: "x.js"}}},
		"root":  {Generation: 2, AddedRoots: []uint32{50_000_000}},
		"max32": {Generation: 2, Files: []FileEntry{{Index: 0xFFFFFFFF, ID: "x.js"}}},
	} {
		if _, err := DecodeUpdate(EncodeUpdate(u)); !errors.Is(err, ErrIndexTooLarge) {
			t.Errorf("%s index: error = %v, want ErrIndexTooLarge", name, err)
		}
	}

	full := EncodeUpdate(&UpdateBatch{Generation: 2, Modules: []ModuleRecord{{ID: "x", Kind: ModuleCommonJS, Symbol: "s"}}})
	for i := 0; i < len(full); i++ {
		if _, err := DecodeUpdate(full[:i]); err == nil {
			t.Errorf("truncated at %d: no error", i)
		}
	}
}

func TestReloadEncodeDecode(t *testing.T) {
	r := &Reload{Generation: 9, Reason: "update reached root without a boundary"}
	got, err := DecodeReload(EncodeReload(r))
	if err != nil {
		t.Fatal(err)
	}
	if *got != *r {
		t.Errorf("got %+v, want %+v", got, r)
	}
}

func TestConsoleEncodeDecode(t *testing.T) {
	b := &ConsoleBatch{Calls: []ConsoleCall{
		{Channel: "log", Args: []byte(`["hello",1]`)},
		{Channel: "error", Args: []byte(`["boom"]`)},
		{Channel: "log", Args: []byte{}},
	}}
	got, err := DecodeConsole(EncodeConsole(b))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, b) {
		t.Errorf("got %+v, want %+v", got, b)
	}

	empty, err := DecodeConsole(EncodeConsole(&ConsoleBatch{}))
	if err != nil || len(empty.Calls) != 0 {
		t.Errorf("empty batch = %+v, %v", empty, err)
	}
}

func TestErrorMessageEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		em   *ErrorMessage
		want string
	}{
		{
			name: "load_error",
			em:   NewLoadError(ErrLoad, "app/a.js", "boom"),
			want: "Load app/a.js: boom",
		},
		{
			name: "update_error",
			em:   NewUpdateError(ErrStaleGeneration, 4, "expected 3"),
			want: "StaleGeneration: expected 3",
		},
		{
			name: "fatal",
			em:   NewFatalError(ErrInvalidFrame, "bad header"),
			want: "fatal: InvalidFrame: bad header",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeErrorMessage(EncodeErrorMessage(tc.em))
			if err != nil {
				t.Fatalf("DecodeErrorMessage() error = %v", err)
			}
			if *got != *tc.em {
				t.Errorf("got %+v, want %+v", got, tc.em)
			}
			if !strings.Contains(got.Error(), tc.want) {
				t.Errorf("Error() = %q, want %q", got.Error(), tc.want)
			}
		})
	}
}
