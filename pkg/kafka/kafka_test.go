package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		if d <= 0 || d > max {
			t.Fatalf("attempt %d: backoff %v out of (0, %v]", attempt, d, max)
		}
	}
	if d := backoffWithJitter(min, max, 1); d < min/2 || d > min {
		t.Fatalf("first backoff %v not within [min/2, min]", d)
	}
}

func TestParseCompression(t *testing.T) {
	cases := map[string]kafka.Compression{
		"gzip":   kafka.Gzip,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
		"snappy": kafka.Snappy,
		"":       kafka.Snappy,
	}
	for in, want := range cases {
		if got := parseCompression(in); got != want {
			t.Errorf("parseCompression(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPermanentUnwraps(t *testing.T) {
	base := errors.New("bad payload")
	err := Permanent(base)
	var perm *PermanentError
	if !errors.As(err, &perm) || !errors.Is(err, base) {
		t.Fatalf("Permanent did not wrap: %v", err)
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatal("expected error without brokers")
	}
	reg := prometheus.NewRegistry()
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithProducerMetrics(reg))
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	// Second producer on the same registry reuses collectors.
	if _, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithProducerMetrics(reg)); err != nil {
		t.Fatalf("second NewProducer: %v", err)
	}
	_ = p.Close()
}

func TestEncodeValue(t *testing.T) {
	v, err := encodeValue(map[string]int{"a": 1})
	if err != nil || string(v) != `{"a":1}` {
		t.Fatalf("encodeValue = %s, %v", v, err)
	}
	v, _ = encodeValue("raw")
	if string(v) != "raw" {
		t.Fatalf("string passthrough = %s", v)
	}
}
