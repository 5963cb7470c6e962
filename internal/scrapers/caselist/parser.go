package caselist

import (
	"bytes"
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/internal/pipeline"
	"caselist-scout/lib/htmlutil"
	"context"
	"net/url"
	"slices"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_parser_list_leaf_units = "parser.list-leaf-units"
	report_parser_extract_records = "parser.extract-records"
)

type ParserOptions struct {
	// DownloadBaseUrl is prefixed to the path of a preview link to form the
	// download url of an attachment, empty disables download urls.
	DownloadBaseUrl string
	// EmptyMarker is the text a leaf unit page shows when it has no records.
	EmptyMarker string
	// PlaceholderMarkers are texts that all appear on a page that has not
	// finished rendering its listing.
	PlaceholderMarkers []string
	// ListingMarker is the text only a fully rendered group page contains.
	ListingMarker string
}

// DefaultParserOptions describes opencaselist.
func DefaultParserOptions() ParserOptions {
	return ParserOptions{
		DownloadBaseUrl:    "https://api.opencaselist.com/v1/download",
		EmptyMarker:        "No rounds yet, add one!",
		PlaceholderMarkers: []string{"2025-2026", "2024-2025"},
		ListingMarker:      "Team",
	}
}

var recordTableHeaders = []string{"Tournament", "Round", "Side"}

// Parser implements pipeline.Parser for opencaselist pages.
type Parser struct {
	options ParserOptions
	tel     telemetry.API
}

func NewParser(options ParserOptions, tel telemetry.API) Parser {
	return Parser{
		options: options,
		tel:     telemetry.NewScopedAPI("caselist_parser", tel),
	}
}

// GroupSlug is how a group identifier appears in the paths of its pages.
func GroupSlug(groupId string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, groupId)
}

func (p Parser) document(content pipeline.Content, id string) (*goquery.Document, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content.Body))
	if err != nil {
		p.tel.ReportBroken(id, err)
		return nil, false
	}
	if content.Address != nil {
		doc.Url = content.Address
	}
	return doc, true
}

func bodyText(doc *goquery.Document) string {
	return doc.Find("body").Text()
}

func (p Parser) isPlaceholder(text string) bool {
	if len(p.options.PlaceholderMarkers) == 0 {
		return false
	}
	for _, marker := range p.options.PlaceholderMarkers {
		if !strings.Contains(text, marker) {
			return false
		}
	}
	return p.options.ListingMarker == "" || !strings.Contains(text, p.options.ListingMarker)
}

func (p Parser) ListLeafUnits(content pipeline.Content, groupId string) ([]pipeline.LeafUnitRef, pipeline.PageShape) {
	doc, ok := p.document(content, report_parser_list_leaf_units)
	if !ok {
		return nil, pipeline.SHAPE_UNRECOGNIZED
	}

	segment := "/" + GroupSlug(groupId) + "/"
	anchors := htmlutil.GetAnchors(context.Background(), content.Address, doc.Find("a[href]"))

	var units []pipeline.LeafUnitRef
	seen := map[string]struct{}{}
	for _, a := range anchors {
		address := a.Url.String()
		if !strings.Contains(address, segment) || strings.Contains(address, "/All") {
			continue
		}
		if a.Name == "" || a.Name == "Aff" || a.Name == "Neg" {
			continue
		}
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		units = append(units, pipeline.LeafUnitRef{Name: a.Name, Address: address})
	}

	if len(units) > 0 {
		return units, pipeline.SHAPE_TABLE
	}
	if p.isPlaceholder(bodyText(doc)) {
		return nil, pipeline.SHAPE_PLACEHOLDER
	}
	return nil, pipeline.SHAPE_UNRECOGNIZED
}

func cellText(cell *goquery.Selection) string {
	return htmlutil.CleanText(cell.Text())
}

func findRecordTable(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		header := table.Find("tr").First()
		if header.Length() == 0 {
			return true
		}
		var headers []string
		header.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			headers = append(headers, cellText(cell))
		})
		for _, required := range recordTableHeaders {
			if !slices.Contains(headers, required) {
				return true
			}
		}
		found = table
		return false
	})
	return found
}

func (p Parser) attachment(doc *goquery.Document, cell *goquery.Selection) *pipeline.Attachment {
	href, ok := cell.Find(`a[href*="/preview"]`).First().Attr("href")
	if !ok {
		return nil
	}
	preview, err := url.Parse(href)
	if err != nil {
		p.tel.ReportWarning(report_parser_extract_records, err, href)
		return nil
	}
	if doc.Url != nil {
		preview = doc.Url.ResolveReference(preview)
	}

	attachment := &pipeline.Attachment{PreviewUrl: preview.String()}
	path := preview.Query().Get("path")
	if path != "" && p.options.DownloadBaseUrl != "" {
		attachment.DownloadUrl = p.options.DownloadBaseUrl + "?" + url.Values{"path": {path}}.Encode()
	}
	return attachment
}

// ExtractRecords returns every row of the record table, validity is left to
// the caller.
func (p Parser) ExtractRecords(content pipeline.Content) ([]pipeline.Record, pipeline.PageShape) {
	doc, ok := p.document(content, report_parser_extract_records)
	if !ok {
		return nil, pipeline.SHAPE_UNRECOGNIZED
	}

	text := bodyText(doc)
	if p.options.EmptyMarker != "" && strings.Contains(text, p.options.EmptyMarker) {
		return nil, pipeline.SHAPE_EMPTY
	}

	table := findRecordTable(doc)
	if table == nil {
		if p.isPlaceholder(text) {
			return nil, pipeline.SHAPE_PLACEHOLDER
		}
		return nil, pipeline.SHAPE_UNRECOGNIZED
	}

	var records []pipeline.Record
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		field := func(n int) string {
			if n >= cells.Length() {
				return ""
			}
			return cellText(cells.Eq(n))
		}

		record := pipeline.Record{
			SourceLabel:   field(0),
			SequenceLabel: field(1),
			Side:          field(2),
			Counterpart:   field(3),
			Adjudicator:   field(4),
			Note:          field(5),
		}
		if cells.Length() > 6 {
			record.Attachment = p.attachment(doc, cells.Eq(6))
		}
		records = append(records, record)
	})
	return records, pipeline.SHAPE_TABLE
}
