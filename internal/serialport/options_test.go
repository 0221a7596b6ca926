package serialport

import (
	"testing"

	"go.bug.st/serial"
)

func TestOptions_Normalize_Defaults(t *testing.T) {
	got, err := Options{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", got.BaudRate, DefaultBaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
}

func TestOptions_Normalize_Table(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		want    Options
		wantErr bool
	}{
		{
			name: "explicit values",
			opts: Options{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E"},
			want: Options{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E"},
		},
		{
			name: "negative baud falls back to default",
			opts: Options{BaudRate: -5},
			want: Options{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "long parity names",
			opts: Options{Parity: " odd "},
			want: Options{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "O"},
		},
		{
			name: "none parity",
			opts: Options{Parity: "none"},
			want: Options{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{name: "non-standard baud", opts: Options{BaudRate: 12345}, wantErr: true},
		{name: "data bits too small", opts: Options{DataBits: 4}, wantErr: true},
		{name: "data bits too large", opts: Options{DataBits: 9}, wantErr: true},
		{name: "stop bits", opts: Options{StopBits: 3}, wantErr: true},
		{name: "parity", opts: Options{Parity: "mark"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOptions_SerialMode(t *testing.T) {
	mode, err := Options{BaudRate: 115200, StopBits: 2, Parity: "E"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", mode.BaudRate)
	}
	if mode.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", mode.DataBits)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want EvenParity", mode.Parity)
	}

	mode, err = Options{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.StopBits != serial.OneStopBit || mode.Parity != serial.NoParity {
		t.Errorf("default mode = %+v, want 8N1", mode)
	}

	if _, err := (Options{Parity: "X"}).SerialMode(); err == nil {
		t.Error("expected error for invalid parity")
	}
}

func TestOptions_String(t *testing.T) {
	if got := (Options{}).String(); got != "38400 8N1" {
		t.Errorf("String() = %q, want %q", got, "38400 8N1")
	}
	if got := (Options{BaudRate: 115200, Parity: "E", StopBits: 2}).String(); got != "115200 8E2" {
		t.Errorf("String() = %q, want %q", got, "115200 8E2")
	}
}

func TestOpen_InvalidOptions(t *testing.T) {
	if _, err := Open("/dev/null-not-a-port", Options{DataBits: 12}); err == nil {
		t.Error("expected error for invalid options before touching the device")
	}
}
