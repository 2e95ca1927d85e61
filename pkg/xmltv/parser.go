package xmltv

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ulikunitz/xz"
)

// Parser walks an XMLTV document and invokes callbacks per element, so
// multi-hundred-megabyte guides never need to fit in memory.
type Parser struct {
	// OnChannel is called for each channel definition.
	OnChannel func(ch *Channel) error
	// OnProgramme is called for each programme entry.
	OnProgramme func(prog *Programme) error
	// OnError is called for recoverable per-element errors; parsing
	// continues. A nil OnError drops them.
	OnError func(err error)
}

// Parse reads an uncompressed XMLTV document from r.
func (p *Parser) Parse(r io.Reader) error {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "channel":
			if p.OnChannel == nil {
				_ = decoder.Skip()
				continue
			}
			ch, err := p.parseChannel(decoder, start)
			if err != nil {
				p.recoverable(err)
				continue
			}
			if err := p.OnChannel(ch); err != nil {
				return fmt.Errorf("channel callback: %w", err)
			}
		case "programme":
			if p.OnProgramme == nil {
				_ = decoder.Skip()
				continue
			}
			prog, err := p.parseProgramme(decoder, start)
			if err != nil {
				p.recoverable(err)
				continue
			}
			if err := p.OnProgramme(prog); err != nil {
				return fmt.Errorf("programme callback: %w", err)
			}
		}
	}
}

// ParseCompressed sniffs magic bytes and decompresses gzip, bzip2, or xz
// input before parsing. Plain XML passes straight through.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)
	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

func (p *Parser) parseChannel(decoder *xml.Decoder, start xml.StartElement) (*Channel, error) {
	ch := &Channel{}
	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			ch.ID = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "display-name":
				var name string
				if err := decoder.DecodeElement(&name, &elem); err == nil && ch.DisplayName == "" {
					ch.DisplayName = strings.TrimSpace(name)
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						ch.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			case "url":
				var url string
				if err := decoder.DecodeElement(&url, &elem); err == nil {
					ch.URL = strings.TrimSpace(url)
				}
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "channel" {
				return ch, nil
			}
		}
	}
}

func (p *Parser) parseProgramme(decoder *xml.Decoder, start xml.StartElement) (*Programme, error) {
	prog := &Programme{}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "start":
			if t, err := ParseTime(attr.Value); err == nil {
				prog.Start = t
			}
		case "stop":
			if t, err := ParseTime(attr.Value); err == nil {
				prog.Stop = t
			}
		case "channel":
			prog.Channel = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "title":
				var title string
				if err := decoder.DecodeElement(&title, &elem); err == nil && prog.Title == "" {
					prog.Title = strings.TrimSpace(title)
					for _, attr := range elem.Attr {
						if attr.Name.Local == "lang" && prog.Language == "" {
							prog.Language = attr.Value
						}
					}
				}
			case "sub-title":
				var sub string
				if err := decoder.DecodeElement(&sub, &elem); err == nil {
					prog.SubTitle = strings.TrimSpace(sub)
				}
			case "desc":
				var desc string
				if err := decoder.DecodeElement(&desc, &elem); err == nil {
					prog.Description = strings.TrimSpace(desc)
				}
			case "category":
				var cat string
				if err := decoder.DecodeElement(&cat, &elem); err == nil && prog.Category == "" {
					prog.Category = strings.TrimSpace(cat)
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						prog.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			case "episode-num":
				var ep string
				if err := decoder.DecodeElement(&ep, &elem); err == nil {
					prog.EpisodeNum = strings.TrimSpace(ep)
				}
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "programme" {
				return prog, nil
			}
		}
	}
}

func (p *Parser) recoverable(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
