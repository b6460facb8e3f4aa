package quote

import (
	"bytes"
	"io"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestFormatSymbol(t *testing.T) {
	cases := map[string]string{
		"600519":    "sh600519",
		"688981":    "sh688981",
		"510300":    "sh510300",
		"000001":    "sz000001",
		"300750":    "sz300750",
		"SZ000001":  "sz000001",
		" sh600000": "sh600000",
		"830799":    "830799",
		"12345":     "12345",
		"abc":       "abc",
	}
	for in, want := range cases {
		if got := FormatSymbol(in); got != want {
			t.Errorf("FormatSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitSymbol(t *testing.T) {
	market, code, ok := SplitSymbol("600519")
	if !ok || market != "sh" || code != "600519" {
		t.Fatalf("SplitSymbol = %s %s %v", market, code, ok)
	}
	if _, _, ok := SplitSymbol("830799"); ok {
		t.Fatalf("expected unknown exchange to fail")
	}
}

func TestDecodeGBK(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(`v_sh600519="1~贵州茅台~600519";`)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeGBK([]byte(encoded))
	if err != nil {
		t.Fatalf("DecodeGBK: %v", err)
	}
	if q := Parse(got); len(q) != 0 {
		t.Fatalf("three fields should not parse, got %+v", q)
	}
	if got != `v_sh600519="1~贵州茅台~600519";` {
		t.Fatalf("decoded = %q", got)
	}

	data, err := io.ReadAll(NewGBKReader(bytes.NewReader([]byte(encoded))))
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if !bytes.Equal(data, []byte(got)) {
		t.Fatalf("reader decoded = %q", data)
	}
}
