package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Writer emits an XMLTV document incrementally. Channels must all be
// written before the first programme; WriteProgramme seals the channel
// section.
type Writer struct {
	w             io.Writer
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates a Writer targeting w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the XML declaration and opens the tv element. It is
// called implicitly by the first WriteChannel or WriteProgramme.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, `<?xml version="1.0" encoding="UTF-8"?>`); err != nil {
		return fmt.Errorf("writing XML declaration: %w", err)
	}
	if _, err := fmt.Fprintln(w.w, `<tv generator-info-name="retrovue" generator-info-url="https://github.com/retrovue/retrovue">`); err != nil {
		return fmt.Errorf("writing tv element: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteChannel writes one channel definition.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channel %q written after programmes", ch.ID)
	}

	if _, err := fmt.Fprintf(w.w, "  <channel id=\"%s\">\n", xmlEscape(ch.ID)); err != nil {
		return fmt.Errorf("writing channel: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "    <display-name>%s</display-name>\n", xmlEscape(ch.DisplayName)); err != nil {
		return err
	}
	if ch.Icon != "" {
		if _, err := fmt.Fprintf(w.w, "    <icon src=\"%s\"/>\n", xmlEscape(ch.Icon)); err != nil {
			return err
		}
	}
	if ch.URL != "" {
		if _, err := fmt.Fprintf(w.w, "    <url>%s</url>\n", xmlEscape(ch.URL)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.w, "  </channel>")
	return err
}

// WriteProgramme writes one guide entry.
func (w *Writer) WriteProgramme(prog *Programme) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	if _, err := fmt.Fprintf(w.w, "  <programme start=\"%s\" stop=\"%s\" channel=\"%s\">\n",
		FormatTime(prog.Start), FormatTime(prog.Stop), xmlEscape(prog.Channel)); err != nil {
		return fmt.Errorf("writing programme: %w", err)
	}

	lang := prog.Language
	if lang == "" {
		lang = "en"
	}
	if _, err := fmt.Fprintf(w.w, "    <title lang=\"%s\">%s</title>\n", lang, xmlEscape(prog.Title)); err != nil {
		return err
	}
	if prog.SubTitle != "" {
		if _, err := fmt.Fprintf(w.w, "    <sub-title lang=\"%s\">%s</sub-title>\n", lang, xmlEscape(prog.SubTitle)); err != nil {
			return err
		}
	}
	if prog.Description != "" {
		if _, err := fmt.Fprintf(w.w, "    <desc lang=\"%s\">%s</desc>\n", lang, xmlEscape(prog.Description)); err != nil {
			return err
		}
	}
	if prog.Category != "" {
		if _, err := fmt.Fprintf(w.w, "    <category lang=\"%s\">%s</category>\n", lang, xmlEscape(prog.Category)); err != nil {
			return err
		}
	}
	if prog.Icon != "" {
		if _, err := fmt.Fprintf(w.w, "    <icon src=\"%s\"/>\n", xmlEscape(prog.Icon)); err != nil {
			return err
		}
	}
	if prog.EpisodeNum != "" {
		if _, err := fmt.Fprintf(w.w, "    <episode-num system=\"onscreen\">%s</episode-num>\n", xmlEscape(prog.EpisodeNum)); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w.w, "  </programme>")
	return err
}

// WriteFooter closes the tv element.
func (w *Writer) WriteFooter() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w.w, "</tv>")
	return err
}

// xmlEscape escapes text for element content and attribute values.
func xmlEscape(s string) string {
	var buf []byte
	_ = xml.EscapeText((*escapeBuffer)(&buf), []byte(s))
	return string(buf)
}

type escapeBuffer []byte

func (b *escapeBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
