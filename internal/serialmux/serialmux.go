// Serialmux provides an abstraction over a serial port with the ability for
// multiple clients to subscribe to framed telemetry records read from a
// single scoring-machine serial line.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/piste-data/touche.report/internal/favero"
	"tailscale.com/tsweb"
)

// SerialMux is a generic serial port multiplexer that allows multiple clients
// to subscribe to telemetry records framed from a single serial port. The
// FA-05 line is broadcast-only: the apparatus accepts no commands, so the mux
// exposes no write path.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving framed records from the
	// serial port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads the serial port, frames the byte stream into records and
	// sends them to the appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats reports the framing counters maintained by Monitor.
type Stats struct {
	// Records is the number of well-formed records fanned out so far.
	Records uint64 `json:"records"`
	// ChecksumDrops counts candidate records rejected by their checksum.
	ChecksumDrops uint64 `json:"checksum_drops"`
	// BytesDiscarded counts noise bytes skipped while hunting for a marker.
	BytesDiscarded uint64 `json:"bytes_discarded"`
	// LastRecordHex is the most recent record, hex encoded, empty until the
	// first record arrives.
	LastRecordHex string `json:"last_record_hex"`
	// LastRecordAt is the wall time the most recent record was framed.
	LastRecordAt time.Time `json:"last_record_at"`
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:         port,
		subscribers:  make(map[string]chan []byte),
		subscriberMu: sync.Mutex{},
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Stats returns a copy of the current framing counters.
func (s *SerialMux[T]) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// splitRecords is a bufio.SplitFunc that frames the raw byte stream into
// fixed-length telemetry records aligned on the 0xFF start marker. Bytes
// ahead of a marker are discarded as line noise. A candidate record whose
// checksum fails is skipped by resuming the scan one byte past its marker,
// so an embedded 0xFF can realign the stream.
func (s *SerialMux[T]) splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}

	start := bytes.IndexByte(data, favero.StartMarker)
	if start < 0 {
		// No marker anywhere in the window; everything is noise.
		s.countDiscarded(len(data))
		return len(data), nil, nil
	}
	if start > 0 {
		s.countDiscarded(start)
		return start, nil, nil
	}

	if len(data) < favero.RecordLen {
		if atEOF {
			// Partial trailing record with nothing more coming.
			s.countDiscarded(len(data))
			return len(data), nil, nil
		}
		return 0, nil, nil
	}

	record := data[:favero.RecordLen]
	if favero.Checksum(record[:favero.RecordLen-1]) != record[favero.RecordLen-1] {
		s.countChecksumDrop()
		return 1, nil, nil
	}

	return favero.RecordLen, record, nil
}

func (s *SerialMux[T]) countDiscarded(n int) {
	s.statsMu.Lock()
	s.stats.BytesDiscarded += uint64(n)
	s.statsMu.Unlock()
}

func (s *SerialMux[T]) countChecksumDrop() {
	s.statsMu.Lock()
	s.stats.ChecksumDrops++
	s.statsMu.Unlock()
}

func (s *SerialMux[T]) noteRecord(record []byte) {
	s.statsMu.Lock()
	s.stats.Records++
	s.stats.LastRecordHex = hex.EncodeToString(record)
	s.stats.LastRecordAt = time.Now()
	s.statsMu.Unlock()
}

// Monitor reads the serial port, frames records and fans them out to
// subscribers. A subscriber that is not ready to receive misses the record;
// this is live telemetry and there is nothing to retry.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Split(s.splitRecords)

	recordChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	// start a goroutine to read from the serial port & send any records that
	// are framed to recordChan, and any errors to the scanErrChan
	//
	// the blocking scan.Scan will not interfere with our outer loop awaiting
	// records & context cancellation.
	go func() {
		defer close(recordChan)
		for scan.Scan() {
			// the scanner reuses its buffer between calls; copy the record
			// before handing it off
			record := append([]byte(nil), scan.Bytes()...)
			select {
			case recordChan <- record:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		// check if the context is done
		// and exit the loop if so
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case record, ok := <-recordChan:
			// if the channel is closed, we're done reading from the serial port
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			// Check if we're closing
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.noteRecord(record)

			// otherwise take a read lock on the subscriber map
			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- record:
				default:
					// if the channel is full/blocking skip so as not to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Counters plus the most recent record for quick link inspection.
	debug.HandleFunc("serial-state", "serial link counters and last record", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
			http.Error(w, "Failed to encode state", http.StatusInternalServerError)
		}
	})

	// API endpoint to issue Server-Side Events (SSE) with the hex encoding of
	// each record framed from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case record, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", hex.EncodeToString(record))))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
