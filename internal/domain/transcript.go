package domain

// TranscriptKind identifies what a speech-to-text stream event carries.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
	// TranscriptKindSpeechStarted marks voice activity before any text.
	TranscriptKindSpeechStarted TranscriptKind = "speech_started"
	// TranscriptKindUtteranceEnd marks a gap in speech after the last word.
	TranscriptKindUtteranceEnd TranscriptKind = "utterance_end"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}
