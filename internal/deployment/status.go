package deployment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unknown fills fields the status tool did not report.
const Unknown = "Unknown"

// TimeFormat is used for deployment timestamps.
const TimeFormat = "2006-01-02 15:04:05"

const idLength = 12

// rpmOstreeStatus is the subset of `rpm-ostree status --json` we read.
type rpmOstreeStatus struct {
	Deployments []rpmOstreeDeployment `json:"deployments"`
}

type rpmOstreeDeployment struct {
	Checksum                string    `json:"checksum"`
	Origin                  string    `json:"origin"`
	ContainerImageReference string    `json:"container-image-reference"`
	Version                 string    `json:"version"`
	Timestamp               timestamp `json:"timestamp"`
	Booted                  bool      `json:"booted"`
	Pinned                  bool      `json:"pinned"`
}

// timestamp is a deployment time: Unix seconds as a number or numeric
// string, or an RFC 3339 string. A value of any other shape is left unset
// so one odd field never fails the whole status.
type timestamp struct {
	t     time.Time
	valid bool
}

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	*ts = timestamp{}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch v := v.(type) {
	case float64:
		ts.t, ts.valid = time.Unix(int64(v), 0), true
	case string:
		v = strings.TrimSpace(v)
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts.t, ts.valid = time.Unix(sec, 0), true
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			ts.t, ts.valid = t, true
		}
	}
	return nil
}

// String formats the time in the local zone, or Unknown when unset.
func (ts timestamp) String() string {
	if !ts.valid {
		return Unknown
	}
	return ts.t.Local().Format(TimeFormat)
}

// parseRPMOstreeStatus converts rpm-ostree JSON into deployments in the
// order reported.
func parseRPMOstreeStatus(data []byte) ([]Deployment, error) {
	var status rpmOstreeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, sentinels.Wrap(ErrParseStatus, err, "failed to parse rpm-ostree status: "+err.Error(), nil)
	}
	out := make([]Deployment, 0, len(status.Deployments))
	for i, d := range status.Deployments {
		origin := d.Origin
		if origin == "" {
			origin = d.ContainerImageReference
		}
		out = append(out, Deployment{
			ID:        shortID(d.Checksum),
			Checksum:  d.Checksum,
			Origin:    orUnknown(origin),
			Version:   orUnknown(d.Version),
			Timestamp: d.Timestamp.String(),
			Booted:    d.Booted,
			Pinned:    d.Pinned,
			Index:     i,
		})
	}
	return out, nil
}

// bootcStatus is the subset of `bootc status --json` we read.
type bootcStatus struct {
	Status struct {
		Staged   *bootcEntry `json:"staged"`
		Booted   *bootcEntry `json:"booted"`
		Rollback *bootcEntry `json:"rollback"`
	} `json:"status"`
}

type bootcEntry struct {
	Image *struct {
		Image struct {
			Image     string `json:"image"`
			Transport string `json:"transport"`
		} `json:"image"`
		Version   string    `json:"version"`
		Timestamp timestamp `json:"timestamp"`
	} `json:"image"`
	Pinned bool `json:"pinned"`
	Ostree *struct {
		Checksum string `json:"checksum"`
	} `json:"ostree"`
}

// parseBootcStatus maps bootc's staged, booted and rollback slots to the
// rpm-ostree ordering: staged first, then booted, then rollback.
func parseBootcStatus(data []byte) ([]Deployment, error) {
	var status bootcStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, sentinels.Wrap(ErrParseStatus, err, "failed to parse bootc status: "+err.Error(), nil)
	}
	var out []Deployment
	add := func(e *bootcEntry, booted bool) {
		if e == nil {
			return
		}
		d := Deployment{
			Origin:    Unknown,
			Version:   Unknown,
			Timestamp: Unknown,
			Booted:    booted,
			Pinned:    e.Pinned,
			Index:     len(out),
		}
		if e.Ostree != nil {
			d.Checksum = e.Ostree.Checksum
			d.ID = shortID(e.Ostree.Checksum)
		}
		if e.Image != nil {
			d.Origin = orUnknown(e.Image.Image.Image)
			d.Version = orUnknown(e.Image.Version)
			d.Timestamp = e.Image.Timestamp.String()
		}
		out = append(out, d)
	}
	add(status.Status.Staged, false)
	add(status.Status.Booted, true)
	add(status.Status.Rollback, false)
	return out, nil
}

// checkBooted enforces exactly one booted deployment.
func checkBooted(deployments []Deployment) error {
	n := 0
	for _, d := range deployments {
		if d.Booted {
			n++
		}
	}
	if n != 1 {
		return sentinels.Wrap(ErrParseStatus, nil,
			fmt.Sprintf("status reports %d booted deployments", n),
			map[string]any{"booted": n})
	}
	return nil
}

func shortID(checksum string) string {
	if len(checksum) > idLength {
		return checksum[:idLength]
	}
	return checksum
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}
