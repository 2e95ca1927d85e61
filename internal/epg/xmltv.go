package epg

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/retrovue/retrovue/pkg/xmltv"
)

// WriteXMLTV streams the guide for every enabled channel as an XMLTV
// document. Channel IDs in the document are slugs, matching the playback
// URLs.
func (p *Projector) WriteXMLTV(ctx context.Context, w io.Writer) error {
	channels, err := p.channels.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading channels for XMLTV: %w", err)
	}

	xw := xmltv.NewWriter(w)
	if err := xw.WriteHeader(); err != nil {
		return err
	}

	for _, channel := range channels {
		err := xw.WriteChannel(&xmltv.Channel{
			ID:          channel.Slug,
			DisplayName: channel.Name,
		})
		if err != nil {
			return err
		}
	}

	for _, channel := range channels {
		programs, err := p.Programs(ctx, channel.ID, 0)
		if err != nil {
			p.logger.Warn("skipping channel in XMLTV output",
				slog.String("channel", channel.Slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, prog := range programs {
			err := xw.WriteProgramme(&xmltv.Programme{
				Channel:     channel.Slug,
				Start:       prog.Start,
				Stop:        prog.Stop,
				Title:       prog.Title,
				SubTitle:    prog.SubTitle,
				Description: prog.Description,
				EpisodeNum:  prog.EpisodeNum,
			})
			if err != nil {
				return err
			}
		}
	}

	return xw.WriteFooter()
}
