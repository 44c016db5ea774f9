package stream

import (
	"fmt"
	"net/http"
)

const mjpegBoundary = "stereogramframe"

// MJPEGHandler serves cm's JPEG frames as multipart/x-mixed-replace, the
// format an <img> tag plays as a live video.
func MJPEGHandler(cm *ConnectionManager[[]byte]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		client, ok := cm.AddClient(r.RemoteAddr, r.UserAgent())
		if !ok {
			http.Error(w, "Server at capacity, please try again later", http.StatusServiceUnavailable)
			return
		}
		defer cm.RemoveClient(client)

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Connection", "close")

		// Start from the current frame so a frozen stream is not blank.
		if frame, ok := cm.Last(); ok {
			if writePart(w, frame) != nil {
				return
			}
			flusher.Flush()
		}

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case frame := <-client.C:
				if writePart(w, frame) != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
