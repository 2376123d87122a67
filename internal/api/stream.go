package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lookout-fleet/lookout/internal/audit"
)

const mjpegBoundary = "frame"

// handleFrame serves the device's latest frame as a single image. The token
// may arrive via ?token= because <img> tags cannot set headers.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	identity := getIdentityFromContext(r.Context())

	if !s.deviceVisible(identity, deviceID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	frame, ok := s.frames.Latest(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "no frame available")
		return
	}

	w.Header().Set("Content-Type", frame.MIME)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Data)
}

// handleMJPEG opens one viewer attachment: a multipart/x-mixed-replace
// response carrying whichever frame is current at every tick. Opening the
// first attachment for a device tells its agent to start streaming; closing
// the last one tells it to stop. The attachment ends when the client
// disconnects or the server shuts down.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	identity := getIdentityFromContext(r.Context())

	if !s.deviceVisible(identity, deviceID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	dev, _ := s.store.Device(deviceID)

	s.gate.Attach(deviceID)
	s.metrics.ViewersActive.Inc()
	s.audit.Record(r.Context(), audit.ActionStreamOpen, identity.Username, deviceID, dev.Tenant, nil)
	s.logger.Info("viewer attached", "user", identity.Username, "deviceId", deviceID, "viewers", s.gate.Count(deviceID))

	defer func() {
		s.gate.Detach(deviceID)
		s.metrics.ViewersActive.Dec()
		// The request context is gone by now; the audit write gets its own.
		s.audit.Record(context.Background(), audit.ActionStreamClose, identity.Username, deviceID, dev.Tenant, nil)
		s.logger.Info("viewer detached", "user", identity.Username, "deviceId", deviceID, "viewers", s.gate.Count(deviceID))
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.viewerTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, ok := s.frames.Latest(deviceID)
			if !ok {
				continue
			}
			if err := writePart(w, frame.MIME, frame.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, mime string, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, mime, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
