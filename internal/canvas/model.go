package canvas

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxNameLength       = 190
	maxTextLength       = 10000
	maxPoints           = 10000
	minZoom             = 0.1
	maxZoom             = 10
	defaultCanvasName   = "Untitled"
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", invalid("empty document id")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", invalid("document id exceeds %d characters", maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// ElementID identifies an element within one document.
type ElementID string

// GroupID identifies a set of grouped elements.
type GroupID string

// ElementType enumerates the supported element kinds.
type ElementType string

const (
	ElementRectangle ElementType = "rectangle"
	ElementEllipse   ElementType = "ellipse"
	ElementLine      ElementType = "line"
	ElementArrow     ElementType = "arrow"
	ElementText      ElementType = "text"
	ElementImage     ElementType = "image"
	ElementFreehand  ElementType = "freehand"
)

func (t ElementType) valid() bool {
	switch t {
	case ElementRectangle, ElementEllipse, ElementLine, ElementArrow, ElementText, ElementImage, ElementFreehand:
		return true
	default:
		return false
	}
}

// Point is a position on the canvas plane.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) finite() bool {
	return finite(p.X) && finite(p.Y)
}

// Size is an element's bounding box.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) validate() error {
	if !finite(s.Width) || !finite(s.Height) {
		return invalid("size must be finite")
	}
	if s.Width < 0 || s.Height < 0 {
		return invalid("size must not be negative")
	}
	return nil
}

// Style holds the visual attributes of an element.
type Style struct {
	FillColor   string  `json:"fillColor,omitempty"`
	StrokeColor string  `json:"strokeColor,omitempty"`
	StrokeWidth float64 `json:"strokeWidth"`
	Opacity     float64 `json:"opacity"`
	FontSize    float64 `json:"fontSize,omitempty"`
	FontFamily  string  `json:"fontFamily,omitempty"`
	TextAlign   string  `json:"textAlign,omitempty"`
}

// DefaultStyle is applied to new elements before the draft's style patch.
func DefaultStyle() Style {
	return Style{
		FillColor:   "transparent",
		StrokeColor: "#1f2937",
		StrokeWidth: 2,
		Opacity:     1,
	}
}

// StylePatch carries a partial style update; nil fields are left untouched.
type StylePatch struct {
	FillColor   *string  `json:"fillColor,omitempty"`
	StrokeColor *string  `json:"strokeColor,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	FontSize    *float64 `json:"fontSize,omitempty"`
	FontFamily  *string  `json:"fontFamily,omitempty"`
	TextAlign   *string  `json:"textAlign,omitempty"`
}

func (p StylePatch) empty() bool {
	return p.FillColor == nil && p.StrokeColor == nil && p.StrokeWidth == nil && p.Opacity == nil &&
		p.FontSize == nil && p.FontFamily == nil && p.TextAlign == nil
}

func (p StylePatch) validate() error {
	if p.StrokeWidth != nil && (!finite(*p.StrokeWidth) || *p.StrokeWidth < 0) {
		return invalid("stroke width must be a non-negative number")
	}
	if p.Opacity != nil && (!finite(*p.Opacity) || *p.Opacity < 0 || *p.Opacity > 1) {
		return invalid("opacity must be between 0 and 1")
	}
	if p.FontSize != nil && (!finite(*p.FontSize) || *p.FontSize <= 0) {
		return invalid("font size must be positive")
	}
	if p.TextAlign != nil {
		switch *p.TextAlign {
		case "left", "center", "right":
		default:
			return invalid("text align %q is not supported", *p.TextAlign)
		}
	}
	return nil
}

func (p StylePatch) applyTo(style Style) Style {
	if p.FillColor != nil {
		style.FillColor = *p.FillColor
	}
	if p.StrokeColor != nil {
		style.StrokeColor = *p.StrokeColor
	}
	if p.StrokeWidth != nil {
		style.StrokeWidth = *p.StrokeWidth
	}
	if p.Opacity != nil {
		style.Opacity = *p.Opacity
	}
	if p.FontSize != nil {
		style.FontSize = *p.FontSize
	}
	if p.FontFamily != nil {
		style.FontFamily = *p.FontFamily
	}
	if p.TextAlign != nil {
		style.TextAlign = *p.TextAlign
	}
	return style
}

// Element is one drawable object on the canvas.
type Element struct {
	ID       ElementID   `json:"id"`
	Type     ElementType `json:"type"`
	Position Point       `json:"position"`
	Size     Size        `json:"size"`
	Rotation float64     `json:"rotation"`
	Style    Style       `json:"style"`
	Text     string      `json:"text,omitempty"`
	Points   []Point     `json:"points,omitempty"`
	GroupID  GroupID     `json:"groupId,omitempty"`
	Locked   bool        `json:"locked,omitempty"`
}

// ElementDraft describes an element to add; the store assigns its id.
type ElementDraft struct {
	Type     ElementType `json:"type"`
	Position Point       `json:"position"`
	Size     Size        `json:"size"`
	Rotation float64     `json:"rotation"`
	Style    *StylePatch `json:"style,omitempty"`
	Text     string      `json:"text,omitempty"`
	Points   []Point     `json:"points,omitempty"`
	Locked   bool        `json:"locked,omitempty"`
}

func (d ElementDraft) validate() error {
	if !d.Type.valid() {
		return invalid("element type %q is not supported", d.Type)
	}
	if !d.Position.finite() || !finite(d.Rotation) {
		return invalid("position and rotation must be finite")
	}
	if err := d.Size.validate(); err != nil {
		return err
	}
	if len(d.Text) > maxTextLength {
		return invalid("text exceeds %d characters", maxTextLength)
	}
	if err := validatePoints(d.Points); err != nil {
		return err
	}
	if d.Style != nil {
		return d.Style.validate()
	}
	return nil
}

func (d ElementDraft) build(id ElementID) Element {
	style := DefaultStyle()
	if d.Style != nil {
		style = d.Style.applyTo(style)
	}
	var points []Point
	if len(d.Points) > 0 {
		points = append([]Point(nil), d.Points...)
	}
	return Element{
		ID:       id,
		Type:     d.Type,
		Position: d.Position,
		Size:     d.Size,
		Rotation: d.Rotation,
		Style:    style,
		Text:     d.Text,
		Points:   points,
		Locked:   d.Locked,
	}
}

// ElementPatch carries a partial element update; the id and group are not patchable.
type ElementPatch struct {
	Type     *ElementType `json:"type,omitempty"`
	Position *Point       `json:"position,omitempty"`
	Size     *Size        `json:"size,omitempty"`
	Rotation *float64     `json:"rotation,omitempty"`
	Style    *StylePatch  `json:"style,omitempty"`
	Text     *string      `json:"text,omitempty"`
	Points   *[]Point     `json:"points,omitempty"`
	Locked   *bool        `json:"locked,omitempty"`
}

func (p ElementPatch) empty() bool {
	return p.Type == nil && p.Position == nil && p.Size == nil && p.Rotation == nil &&
		(p.Style == nil || p.Style.empty()) && p.Text == nil && p.Points == nil && p.Locked == nil
}

func (p ElementPatch) validate() error {
	if p.empty() {
		return invalid("no fields to update")
	}
	if p.Type != nil && !p.Type.valid() {
		return invalid("element type %q is not supported", *p.Type)
	}
	if p.Position != nil && !p.Position.finite() {
		return invalid("position must be finite")
	}
	if p.Rotation != nil && !finite(*p.Rotation) {
		return invalid("rotation must be finite")
	}
	if p.Size != nil {
		if err := p.Size.validate(); err != nil {
			return err
		}
	}
	if p.Text != nil && len(*p.Text) > maxTextLength {
		return invalid("text exceeds %d characters", maxTextLength)
	}
	if p.Points != nil {
		if err := validatePoints(*p.Points); err != nil {
			return err
		}
	}
	if p.Style != nil {
		return p.Style.validate()
	}
	return nil
}

func (p ElementPatch) applyTo(element Element) Element {
	if p.Type != nil {
		element.Type = *p.Type
	}
	if p.Position != nil {
		element.Position = *p.Position
	}
	if p.Size != nil {
		element.Size = *p.Size
	}
	if p.Rotation != nil {
		element.Rotation = *p.Rotation
	}
	if p.Style != nil {
		element.Style = p.Style.applyTo(element.Style)
	}
	if p.Text != nil {
		element.Text = *p.Text
	}
	if p.Points != nil {
		element.Points = append([]Point(nil), (*p.Points)...)
	}
	if p.Locked != nil {
		element.Locked = *p.Locked
	}
	return element
}

// GridSettings controls the background grid.
type GridSettings struct {
	Enabled bool    `json:"enabled"`
	Size    float64 `json:"size"`
	Color   string  `json:"color"`
}

// Settings holds canvas-level view and style configuration.
type Settings struct {
	Background string       `json:"background"`
	Grid       GridSettings `json:"grid"`
	SnapToGrid bool         `json:"snapToGrid"`
	Zoom       float64      `json:"zoom"`
	Pan        Point        `json:"pan"`
}

// DefaultSettings returns the settings of a freshly created canvas.
func DefaultSettings() Settings {
	return Settings{
		Background: "#ffffff",
		Grid: GridSettings{
			Enabled: true,
			Size:    20,
			Color:   "#e5e7eb",
		},
		SnapToGrid: false,
		Zoom:       1,
		Pan:        Point{},
	}
}

// GridPatch carries a partial grid update.
type GridPatch struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Size    *float64 `json:"size,omitempty"`
	Color   *string  `json:"color,omitempty"`
}

// SettingsPatch carries a partial settings update.
type SettingsPatch struct {
	Background *string    `json:"background,omitempty"`
	Grid       *GridPatch `json:"grid,omitempty"`
	SnapToGrid *bool      `json:"snapToGrid,omitempty"`
	Zoom       *float64   `json:"zoom,omitempty"`
	Pan        *Point     `json:"pan,omitempty"`
}

func (p SettingsPatch) validate() error {
	gridEmpty := p.Grid == nil || (p.Grid.Enabled == nil && p.Grid.Size == nil && p.Grid.Color == nil)
	if p.Background == nil && gridEmpty && p.SnapToGrid == nil && p.Zoom == nil && p.Pan == nil {
		return invalid("no settings to update")
	}
	if p.Zoom != nil && (!finite(*p.Zoom) || *p.Zoom < minZoom || *p.Zoom > maxZoom) {
		return invalid("zoom must be between %.1f and %.0f", minZoom, float64(maxZoom))
	}
	if p.Pan != nil && !p.Pan.finite() {
		return invalid("pan must be finite")
	}
	if p.Grid != nil && p.Grid.Size != nil && (!finite(*p.Grid.Size) || *p.Grid.Size <= 0) {
		return invalid("grid size must be positive")
	}
	return nil
}

func (p SettingsPatch) applyTo(settings Settings) Settings {
	if p.Background != nil {
		settings.Background = *p.Background
	}
	if p.Grid != nil {
		if p.Grid.Enabled != nil {
			settings.Grid.Enabled = *p.Grid.Enabled
		}
		if p.Grid.Size != nil {
			settings.Grid.Size = *p.Grid.Size
		}
		if p.Grid.Color != nil {
			settings.Grid.Color = *p.Grid.Color
		}
	}
	if p.SnapToGrid != nil {
		settings.SnapToGrid = *p.SnapToGrid
	}
	if p.Zoom != nil {
		settings.Zoom = *p.Zoom
	}
	if p.Pan != nil {
		settings.Pan = *p.Pan
	}
	return settings
}

// Document is the canonical state of one canvas.
type Document struct {
	ID        DocumentID `json:"id"`
	Name      string     `json:"name"`
	Elements  []Element  `json:"elements"`
	Settings  Settings   `json:"settings"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// NewDocument returns an empty document with default settings.
func NewDocument(id DocumentID, name string, now time.Time) Document {
	return Document{
		ID:        id,
		Name:      name,
		Elements:  []Element{},
		Settings:  DefaultSettings(),
		UpdatedAt: now.UTC(),
	}
}

func (d Document) indexOf(id ElementID) int {
	for index := range d.Elements {
		if d.Elements[index].ID == id {
			return index
		}
	}
	return -1
}

func normalizeName(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", invalid("canvas name is required")
	}
	if len(trimmed) > maxNameLength {
		return "", invalid("canvas name exceeds %d characters", maxNameLength)
	}
	return trimmed, nil
}

func validatePoints(points []Point) error {
	if len(points) > maxPoints {
		return invalid("element exceeds %d points", maxPoints)
	}
	for index, point := range points {
		if !point.finite() {
			return fmt.Errorf("%w: point %d is not finite", ErrValidation, index)
		}
	}
	return nil
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
