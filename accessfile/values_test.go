package accessfile

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/notzippy/ucanaccess-code/encoding"
)

func TestNormalize(t *testing.T) {
	guid := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	tests := []struct {
		name    string
		col     ColumnMeta
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{"bool from int", ColumnMeta{Type: TypeBoolean}, int64(-1), true, false},
		{"bool from text", ColumnMeta{Type: TypeBoolean}, "No", false, false},
		{"byte", ColumnMeta{Type: TypeByte}, 200, uint8(200), false},
		{"byte overflow", ColumnMeta{Type: TypeByte}, 300, nil, true},
		{"int rounds half even", ColumnMeta{Type: TypeInt}, 2.5, int16(2), false},
		{"long from text", ColumnMeta{Type: TypeLong}, "42", int32(42), false},
		{"money from float", ColumnMeta{Type: TypeMoney}, 1.2345, Currency(12345), false},
		{"money from text", ColumnMeta{Type: TypeMoney}, "-0.5", Currency(-5000), false},
		{"numeric scale", ColumnMeta{Type: TypeNumeric, Scale: 2}, "1.005", Decimal("1.01"), false},
		{"double", ColumnMeta{Type: TypeDouble}, float32(0.5), 0.5, false},
		{"text too long", ColumnMeta{Type: TypeText, Length: 3}, "abcd", nil, true},
		{"datetime text", ColumnMeta{Type: TypeDateTime}, "2020-02-29 13:14:15", time.Date(2020, 2, 29, 13, 14, 15, 0, time.UTC), false},
		{"time only", ColumnMeta{Type: TypeDateTime}, "10:30:00", time.Date(1899, 12, 30, 10, 30, 0, 0, time.UTC), false},
		{"guid braces", ColumnMeta{Type: TypeGUID}, "{6BA7B810-9DAD-11D1-80B4-00C04FD430C8}", guid, false},
		{"calculated uses result type", ColumnMeta{Type: TypeCalculated, ResultType: TypeDouble, Expression: "[a]*2"}, int64(4), 4.0, false},
		{"nil", ColumnMeta{Type: TypeLong}, nil, nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.col, tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if !SameValue(got, tc.want) {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestStoredAttachmentsKeepData(t *testing.T) {
	col := ColumnMeta{Name: "Files", Type: TypeAttachment}
	in := []Attachment{
		{Name: "a.txt", FileType: "txt", Modified: time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC), Data: []byte("hello hello hello")},
		{Name: "empty.bin", FileType: "bin"},
	}

	stored, err := toStored(col, in)
	if err != nil {
		t.Fatalf("toStored failed: %v", err)
	}
	raw, err := encoding.Marshal(stored)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded interface{}
	if err := encoding.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	got, err := fromStored(col, decoded)
	if err != nil {
		t.Fatalf("fromStored failed: %v", err)
	}
	files := got.([]Attachment)
	if len(files) != 2 {
		t.Fatalf("got %d attachments", len(files))
	}
	if !bytes.Equal(files[0].Data, in[0].Data) {
		t.Errorf("data = %q, want %q", files[0].Data, in[0].Data)
	}
	if !files[0].Modified.Equal(in[0].Modified) {
		t.Errorf("modified = %v", files[0].Modified)
	}
	if len(files[1].Data) != 0 {
		t.Errorf("empty attachment came back with %q", files[1].Data)
	}

	bad := []interface{}{map[string]interface{}{"name": "x", "data": int64(3)}}
	if _, err := fromStored(col, bad); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestCurrencyString(t *testing.T) {
	if got := Currency(-12345).String(); got != "-1.2345" {
		t.Errorf("got %s", got)
	}
	if got := Currency(50000).String(); got != "5.0000" {
		t.Errorf("got %s", got)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("v2007")
	if err != nil || f != V2007 {
		t.Fatalf("ParseFormat: %v %v", f, err)
	}
	if _, err := ParseFormat("V97"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := string(prefixUpperBound([]byte("/row/"))); got != "/row0" {
		t.Errorf("got %q", got)
	}
	if got := prefixUpperBound([]byte{0xFF}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
