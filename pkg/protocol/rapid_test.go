package protocol

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"
)

// TestPacketRoundTrip checks Decode(Encode(h, a, v)) == {h, a, v} for
// arbitrary headers, arguments and JSON object values.
func TestPacketRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		header := rapid.StringMatching(`[A-Z!]{2,4}`).Draw(t, "header")
		argument := rapid.StringMatching(`[A-Za-z]{1,24}`).Draw(t, "argument")

		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Za-z0-9_]{1,12}`), 0, 8, rapid.ID[string]).Draw(t, "keys")
		value := make(map[string]any, len(keys))
		for _, k := range keys {
			switch rapid.IntRange(0, 3).Draw(t, "kind") {
			case 0:
				value[k] = rapid.String().Draw(t, "str")
			case 1:
				value[k] = rapid.Float64Range(-1e9, 1e9).Draw(t, "num")
			case 2:
				value[k] = rapid.Bool().Draw(t, "bool")
			default:
				value[k] = nil
			}
		}

		frame, err := Encode(header, argument, value)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		pkt, err := Decode(frame)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if pkt.Header != header {
			t.Fatalf("header mismatch: got %q, want %q", pkt.Header, header)
		}
		if pkt.Argument != argument {
			t.Fatalf("argument mismatch: got %q, want %q", pkt.Argument, argument)
		}

		var got map[string]any
		if err := json.Unmarshal(pkt.Value, &got); err != nil {
			t.Fatalf("value unmarshal failed: %v", err)
		}
		want, _ := json.Marshal(value)
		gotJSON, _ := json.Marshal(got)
		if string(gotJSON) != string(want) {
			t.Fatalf("value mismatch: got %s, want %s", gotJSON, want)
		}
	})
}

// TestTamperedFrameNeverDecodes flips one random byte and expects rejection.
func TestTamperedFrameNeverDecodes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.StringOfN(rapid.RuneFrom([]rune("abcdefgh0123")), 1, 64, -1).Draw(t, "body")
		frame, err := Encode(HeaderSet, ArgGroupMessage, map[string]any{"Message": body})
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		idx := rapid.IntRange(0, len(frame)-1).Draw(t, "idx")
		bit := rapid.IntRange(0, 7).Draw(t, "bit")
		frame[idx] ^= 1 << bit

		if _, err := Decode(frame); err == nil {
			t.Fatalf("tampered frame decoded (byte %d bit %d)", idx, bit)
		}
	})
}
