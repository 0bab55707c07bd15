package protocol

import "time"

// AudioFrame represents PCM audio data streamed from capture devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents recognizer output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	Code       string    `json:"code,omitempty"`
}

// Notification is a local user-facing notice.
type Notification struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	RecordID  string    `json:"record_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EntitlementUpdate is pushed by the billing integration when subscription state changes.
type EntitlementUpdate struct {
	Entitlement string    `json:"entitlement"`
	Active      bool      `json:"active"`
	Timestamp   time.Time `json:"timestamp"`
}

// Segment mirrors a speaker-attributed span of transcript.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Offset  float64 `json:"timestamp"`
}

// SessionState is published whenever the recording session changes.
type SessionState struct {
	SessionID  string    `json:"session_id,omitempty"`
	Recording  bool      `json:"recording"`
	Paused     bool      `json:"paused"`
	Speaker    string    `json:"speaker"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Segments   []Segment `json:"segments,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Record is the wire shape of a saved transcription.
type Record struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Date     time.Time `json:"date"`
	Title    string    `json:"title"`
	Tags     []string  `json:"tags,omitempty"`
	Favorite bool      `json:"isFavorite"`
	Segments []Segment `json:"segments,omitempty"`
}

// Request is the body of every control request. Unused fields are omitted.
type Request struct {
	ID       string   `json:"id,omitempty"`
	Speaker  string   `json:"speaker,omitempty"`
	Title    string   `json:"title,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Favorite *bool    `json:"favorite,omitempty"`
	Query    string   `json:"query,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	Sort     string   `json:"sort,omitempty"`
	Format   string   `json:"format,omitempty"`
	Save     bool     `json:"save,omitempty"` // write the export into the daemon's export dir
	Key      string   `json:"key,omitempty"`
	Value    *string  `json:"value,omitempty"`
}

// Reply answers a control request.
type Reply struct {
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	State    *SessionState `json:"state,omitempty"`
	Record   *Record       `json:"record,omitempty"`
	Records  []Record      `json:"records,omitempty"`
	Speakers []string      `json:"speakers,omitempty"`
	Document []byte        `json:"document,omitempty"`
	Filename string        `json:"filename,omitempty"`
	MIME     string        `json:"mime,omitempty"`
	Path     string        `json:"path,omitempty"`
	Text     string        `json:"text,omitempty"`
	Prefs    *Preferences  `json:"prefs,omitempty"`
}

// Preferences carries the onboarding flag, the chosen use case and any named
// preferences a request asked for.
type Preferences struct {
	OnboardingComplete bool              `json:"hasCompletedOnboarding"`
	UseCase            string            `json:"selectedUseCase,omitempty"`
	Values             map[string]string `json:"values,omitempty"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"

	SubjectSessionState     = "scribe.session.state"
	SubjectEntitlementState = "scribe.entitlement.state"
	SubjectSessionStart     = "scribe.session.start"
	SubjectSessionStop      = "scribe.session.stop"
	SubjectSessionPause     = "scribe.session.pause"
	SubjectSessionResume    = "scribe.session.resume"
	SubjectSessionSpeaker   = "scribe.session.speaker"
	SubjectSessionSave      = "scribe.session.save"
	SubjectSessionDiscard   = "scribe.session.discard"
	SubjectSessionStatus    = "scribe.session.status"
	SubjectSessionDismiss   = "scribe.session.dismiss"
	SubjectHistoryList      = "scribe.history.list"
	SubjectHistoryGet       = "scribe.history.get"
	SubjectHistoryUpdate    = "scribe.history.update"
	SubjectHistoryDelete    = "scribe.history.delete"
	SubjectHistoryClear     = "scribe.history.clear"
	SubjectHistoryExport    = "scribe.history.export"
	SubjectHistoryShare     = "scribe.history.share"
	SubjectSpeakersList     = "scribe.speakers.list"
	SubjectSpeakersAdd      = "scribe.speakers.add"
	SubjectSpeakersRemove   = "scribe.speakers.remove"
	SubjectPrefsGet         = "scribe.prefs.get"
	SubjectPrefsSet         = "scribe.prefs.set"
)

// AudioFrameSubject returns the subject audio frames for a device or session are published on.
func AudioFrameSubject(id string) string {
	return SubjectAudioFramePrefix + "." + id
}
