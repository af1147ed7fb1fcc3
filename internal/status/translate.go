package status

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ahmed-tasaly/ghermez/internal/engine"
)

// Download statuses as stored and displayed. The engine's "active" and
// "removed" are renamed on the way in; every other engine value passes
// through unchanged.
const (
	Downloading = "downloading"
	Paused      = "paused"
	Waiting     = "waiting"
	Stopped     = "stopped"
	Complete    = "complete"
	Error       = "error"
)

// Status is one normalized download record. Optional fields are nil
// when the engine did not report enough data to derive them, which is
// distinct from an intentional blank.
type Status struct {
	GID            string
	Status         string
	FileName       *string
	Link           *string
	Size           *string
	DownloadedSize *string
	Percent        *string
	Connections    *string
	Rate           string
	ETA            *string
}

// Translate converts one raw engine status record into its normalized
// form. Missing file metadata degrades to absent name and link fields;
// a numeric field that fails to parse is a contract violation and
// surfaces as an error wrapping engine.ErrMalformedResponse.
func Translate(raw engine.RawStatus) (Status, error) {
	out := Status{
		GID:  raw.GID,
		Rate: "0",
	}

	if len(raw.Files) > 0 && raw.Files[0].Path != "" {
		// The engine reports the full destination path; only the
		// containing folder is kept for this field.
		name := filepath.Dir(raw.Files[0].Path)
		out.FileName = &name
		if len(raw.Files[0].URIs) > 0 {
			link := raw.Files[0].URIs[0].URI
			out.Link = &link
		}
	}

	total, err := parseNumeric("totalLength", raw.TotalLength)
	if err != nil {
		return Status{}, err
	}
	completed, err := parseNumeric("completedLength", raw.CompletedLength)
	if err != nil {
		return Status{}, err
	}
	speed, err := parseNumeric("downloadSpeed", raw.DownloadSpeed)
	if err != nil {
		return Status{}, err
	}

	if raw.TotalLength != "" && total != 0 && raw.CompletedLength != "" {
		percent := float32(completed) * 100 / float32(total)
		percentStr := strconv.FormatFloat(float64(percent), 'f', -1, 32) + "%"
		sizeStr := HumanReadableSize(total, KindSize)
		downloadedStr := HumanReadableSize(completed, KindSize)
		out.Percent = &percentStr
		out.Size = &sizeStr
		out.DownloadedSize = &downloadedStr
	}

	if raw.CompletedLength != "" && speed != 0 {
		out.Rate = HumanReadableSize(speed, KindSpeed) + "/s"
		eta := formatETA(int64((total - completed) / speed))
		out.ETA = &eta
	}

	if raw.Connections != "" {
		conns := raw.Connections
		out.Connections = &conns
	}

	switch raw.Status {
	case "active":
		out.Status = Downloading
	case "removed":
		out.Status = Stopped
	case "complete":
		out.Status = Complete
		zero := "0s"
		out.ETA = &zero
	default:
		out.Status = raw.Status
	}
	return out, nil
}

// formatETA decomposes whole seconds into h/m/s components, dropping
// the hour part under an hour and the minute part under a minute.
func formatETA(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%dh%dm%ds", seconds/3600, seconds%3600/60, seconds%60)
	case seconds >= 60:
		return fmt.Sprintf("%dm%ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func parseNumeric(field, value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s = %q", engine.ErrMalformedResponse, field, value)
	}
	return v, nil
}
