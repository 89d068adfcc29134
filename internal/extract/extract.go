// Package extract normalizes inbound messages into plain text utterances.
// Text passes through verbatim, voice notes are downloaded and transcribed,
// media without text yields a fixed placeholder, and unrecognized types yield
// nothing, which the pipeline reports back as unprocessable content.
package extract

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/loopera/chatrelay/internal/wa"
)

// Fixed placeholder utterances for media without usable text.
const (
	PlaceholderImage    = "[Imagen recibida]"
	PlaceholderDocument = "[Documento recibido]"
	PlaceholderSticker  = "[Sticker recibido] 😊"
	PlaceholderLocation = "[Ubicación compartida]"
	PlaceholderContacts = "[Contacto compartido]"
)

// MediaDownloader fetches binary media content for a media identifier.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, error)
}

// Transcriber converts spoken audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Extractor derives a text utterance from an inbound message.
type Extractor struct {
	media       MediaDownloader
	transcriber Transcriber
}

// NewExtractor creates an Extractor with the given collaborators.
func NewExtractor(media MediaDownloader, transcriber Transcriber) *Extractor {
	return &Extractor{media: media, transcriber: transcriber}
}

// Extract returns the utterance for msg. ok is false when the message type is
// unprocessable (unknown type, missing or undownloadable media); that outcome
// is distinct from an empty utterance. A transcription backend failure is
// returned as an error for the pipeline's failure containment to handle.
func (e *Extractor) Extract(ctx context.Context, msg *wa.InboundMessage) (text string, ok bool, err error) {
	switch msg.Type {
	case wa.TypeText:
		return msg.Text, true, nil

	case wa.TypeAudio:
		if msg.MediaID == "" {
			return "", false, nil
		}
		audio, errDownload := e.media.DownloadMedia(ctx, msg.MediaID)
		if errDownload != nil {
			log.WithError(errDownload).WithField("media_id", msg.MediaID).Warn("voice note download failed")
			return "", false, nil
		}
		log.WithFields(log.Fields{"media_id": msg.MediaID, "bytes": len(audio)}).Debug("transcribing voice note")
		transcript, errTranscribe := e.transcriber.Transcribe(ctx, audio)
		if errTranscribe != nil {
			return "", false, errTranscribe
		}
		return transcript, true, nil

	case wa.TypeImage:
		if msg.Caption != "" {
			return msg.Caption, true, nil
		}
		return PlaceholderImage, true, nil

	case wa.TypeDocument:
		if msg.Caption != "" {
			return msg.Caption, true, nil
		}
		return PlaceholderDocument, true, nil

	case wa.TypeSticker:
		return PlaceholderSticker, true, nil

	case wa.TypeLocation:
		return PlaceholderLocation, true, nil

	case wa.TypeContacts:
		return PlaceholderContacts, true, nil

	default:
		return "", false, nil
	}
}
