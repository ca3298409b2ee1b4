package esmon

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// timeLayout is used for every timestamp rendered into record parameters.
const timeLayout = "2006-01-02 15:04:05"

// Record is a decoded event. Each Record is built from scratch for a single
// Message and is never shared between messages.
type Record struct {
	Kind                 Kind  `json:"kind"`
	TimestampSeconds     int64 `json:"timestamp_seconds"`
	TimestampNanoseconds int64 `json:"timestamp_nanoseconds"`
	IsAuth               bool  `json:"is_auth"`
	// SubjectPath is the path or resource most relevant to this kind of
	// event, e.g. the opened file or the mount point. It may be empty.
	SubjectPath string `json:"subject_path"`

	// Process describes the process that triggered the event.
	Process ProcessInfo `json:"process"`
	// Parameters holds the kind-specific fields.
	Parameters *Params `json:"parameters"`
	// Args is the argument vector of an exec event.
	Args []string `json:"args,omitempty"`
}

// Time returns the capture time of the event.
func (r *Record) Time() time.Time {
	return time.Unix(r.TimestampSeconds, r.TimestampNanoseconds)
}

// ProcessInfo is the flattened identity of the process that triggered an
// event.
type ProcessInfo struct {
	PID              int       `json:"pid"`
	EUID             uint32    `json:"euid"`
	RUID             uint32    `json:"ruid"`
	EGID             uint32    `json:"egid"`
	RGID             uint32    `json:"rgid"`
	PPID             int       `json:"ppid"`
	OriginalPPID     int       `json:"oppid"`
	GroupID          int       `json:"gid"`
	SessionID        int       `json:"sid"`
	ThreadID         uint64    `json:"thread_id"`
	CodeSigningFlags uint32    `json:"csflags"`
	CodeSigningDesc  string    `json:"csflags_desc"`
	IsPlatformBinary bool      `json:"is_platform_binary"`
	IsESClient       bool      `json:"is_es_client"`
	SigningID        string    `json:"signing_id"`
	TeamID           string    `json:"team_id"`
	Name             string    `json:"name,omitempty"`
	Executable       string    `json:"executable"`
	StartTime        time.Time `json:"start_time"`
}

// Params is an insertion-ordered string map. Keys are unique; setting an
// existing key replaces its value in place.
type Params struct {
	keys   []string
	values map[string]string
}

// NewParams returns an empty Params.
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Set stores value under key.
func (p *Params) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored under key.
func (p *Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Value returns the value stored under key, or "" if there is none.
func (p *Params) Value(key string) string {
	return p.values[key]
}

// Keys returns the keys in insertion order.
func (p *Params) Keys() []string {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

// Len returns the number of entries.
func (p *Params) Len() int {
	return len(p.keys)
}

// Map returns a copy of the entries as a plain map.
func (p *Params) Map() map[string]string {
	m := make(map[string]string, len(p.values))
	for k, v := range p.values {
		m[k] = v
	}
	return m
}

// MarshalJSON encodes the entries as a JSON object in insertion order.
func (p *Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Params) setInt(key string, v int64) {
	p.Set(key, strconv.FormatInt(v, 10))
}

func (p *Params) setUint(key string, v uint64) {
	p.Set(key, strconv.FormatUint(v, 10))
}

func (p *Params) setBool(key string, v bool) {
	p.Set(key, strconv.FormatBool(v))
}

func (p *Params) setFile(key string, f *File) {
	p.Set(key, f.String())
}

func (p *Params) setTime(key string, t time.Time) {
	p.Set(key, formatTime(t))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

// addProcess writes the identity of p into params with every key prefixed by
// prefix. A nil process has already exited; only "<prefix>pid" = "-1" is
// written for it.
func addProcess(params *Params, prefix string, p *Process) {
	if p == nil {
		params.Set(prefix+"pid", "-1")
		return
	}
	params.setInt(prefix+"pid", int64(p.Token.PID))
	params.setUint(prefix+"euid", uint64(p.Token.EUID))
	params.setUint(prefix+"ruid", uint64(p.Token.RUID))
	params.setUint(prefix+"rgid", uint64(p.Token.RGID))
	params.setUint(prefix+"egid", uint64(p.Token.EGID))
	params.setInt(prefix+"ppid", int64(p.PPID))
	params.setInt(prefix+"oppid", int64(p.OriginalPPID))
	params.setInt(prefix+"gid", int64(p.GroupID))
	params.setInt(prefix+"sid", int64(p.SessionID))
	params.setUint(prefix+"csflags", uint64(p.CodeSigningFlags))
	params.Set(prefix+"csflags_desc", DecodeBitmask(CodeSigningFlags, uint64(p.CodeSigningFlags)))
	params.setBool(prefix+"is_platform_binary", p.IsPlatformBinary)
	params.setBool(prefix+"is_es_client", p.IsESClient)
	params.Set(prefix+"signing_id", p.SigningID)
	params.Set(prefix+"team_id", p.TeamID)
	params.setFile(prefix+"executable", p.Executable)
	params.setTime(prefix+"start_time", p.StartTime)
}

// processInfo flattens the triggering process of a message.
func processInfo(p *Process, threadID uint64) ProcessInfo {
	if p == nil {
		return ProcessInfo{PID: -1, ThreadID: threadID}
	}
	return ProcessInfo{
		PID:              p.Token.PID,
		EUID:             p.Token.EUID,
		RUID:             p.Token.RUID,
		EGID:             p.Token.EGID,
		RGID:             p.Token.RGID,
		PPID:             p.PPID,
		OriginalPPID:     p.OriginalPPID,
		GroupID:          p.GroupID,
		SessionID:        p.SessionID,
		ThreadID:         threadID,
		CodeSigningFlags: p.CodeSigningFlags,
		CodeSigningDesc:  DecodeBitmask(CodeSigningFlags, uint64(p.CodeSigningFlags)),
		IsPlatformBinary: p.IsPlatformBinary,
		IsESClient:       p.IsESClient,
		SigningID:        p.SigningID,
		TeamID:           p.TeamID,
		Name:             p.Name,
		Executable:       p.ExecutablePath(),
		StartTime:        p.StartTime,
	}
}
