// (C) 2025 GoodData Corporation
package shaping

import "testing"

func TestParseBitsPerSecond(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "", want: 0},
		{in: "1Mbit/s", want: 1_000_000},
		{in: "512Kbit/s", want: 512_000},
		{in: "2Gbit/s", want: 2_000_000_000},
		{in: "100bit/s", want: 100},
		{in: "not-a-rate", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBitsPerSecond(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestActiveCount(t *testing.T) {
	var a ActiveCount
	a.Inc()
	a.Inc()
	if a.Load() != 2 {
		t.Fatalf("got %d, want 2", a.Load())
	}
	a.Dec()
	if a.Load() != 1 {
		t.Fatalf("got %d, want 1", a.Load())
	}
}

func TestShapedConnSharesRateAcrossActiveRequests(t *testing.T) {
	c := &shapedConn{downBPS: 800, active: &ActiveCount{}}
	c.active.Inc()
	if got := c.share(c.downBPS); got != 100 {
		t.Fatalf("with 1 active request, got limit %v, want 100", got)
	}
	c.active.Inc()
	c.active.Inc()
	c.active.Inc()
	if got := c.share(c.downBPS); got != 25 {
		t.Fatalf("with 4 active requests, got limit %v, want 25", got)
	}
}
