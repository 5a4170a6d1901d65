package manager

import "github.com/rs/zerolog"

// LogPublisher writes events to a logger. Progress events go to trace level.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	lvl := zerolog.DebugLevel
	if e.Name == EventDownloadProgress {
		lvl = zerolog.TraceLevel
	}
	p.Log.WithLevel(lvl).Str("event", e.Name).Str("artifact", e.Artifact).Fields(e.Fields).Msg("manager event")
}

// multiPublisher fans an event out to several publishers.
type multiPublisher []EventPublisher

func (m multiPublisher) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}

// Publishers combines pubs into one EventPublisher.
func Publishers(pubs ...EventPublisher) EventPublisher {
	return multiPublisher(pubs)
}
