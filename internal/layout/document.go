package layout

// Geometry holds the fixed page constants. All lengths are millimetres, font sizes points.
type Geometry struct {
	PageWidth      float64 `json:"page_width"`
	PageHeight     float64 `json:"page_height"`
	Margin         float64 `json:"margin"`
	BottomMargin   float64 `json:"bottom_margin"`
	LineHeight     float64 `json:"line_height"`
	BlockPadding   float64 `json:"block_padding"`
	TablePadding   float64 `json:"table_padding"`
	TableGap       float64 `json:"table_gap"`
	CellPadding    float64 `json:"cell_padding"`
	FontSize       float64 `json:"font_size"`
	TableFontSize  float64 `json:"table_font_size"`
	FooterFontSize float64 `json:"footer_font_size"`
	BannerTop      float64 `json:"banner_top"`
	BannerBottom   float64 `json:"banner_bottom"`
	ContentTop     float64 `json:"content_top"`
	ImageGap       float64 `json:"image_gap"`
}

// A4 is the only geometry the form is printed with.
func A4() Geometry {
	return Geometry{
		PageWidth:      210,
		PageHeight:     297,
		Margin:         10,
		BottomMargin:   20,
		LineHeight:     6,
		BlockPadding:   4,
		TablePadding:   10,
		TableGap:       4,
		CellPadding:    1.5,
		FontSize:       12,
		TableFontSize:  10,
		FooterFontSize: 10,
		BannerTop:      8,
		BannerBottom:   20,
		ContentTop:     24,
		ImageGap:       4,
	}
}

func (g Geometry) UsableWidth() float64 { return g.PageWidth - 2*g.Margin }

// Limit is the lowest y content may reach before a page break.
func (g Geometry) Limit() float64 { return g.PageHeight - g.BottomMargin }

// TableLineHeight is the line advance inside table cells.
func (g Geometry) TableLineHeight() float64 { return g.TableFontSize * PointsToMM * 1.15 }

type OpKind string

const (
	OpText  OpKind = "text"
	OpRect  OpKind = "rect"
	OpImage OpKind = "image"
)

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

var (
	Black      = Color{0, 0, 0}
	White      = Color{255, 255, 255}
	Grey       = Color{100, 100, 100}
	GridLine   = Color{200, 200, 200}
	LightBlue  = Color{173, 216, 230}
	Cornflower = Color{100, 149, 237}
	TableHead  = Color{26, 188, 156}
)

// Op is one draw instruction. Text occupies the box [Y, Y+H] and is vertically centred in
// it; X is the anchor for Align (left edge, centre or right edge).
type Op struct {
	Kind   OpKind  `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	W      float64 `json:"w,omitempty"`
	H      float64 `json:"h"`
	Text   string  `json:"text,omitempty"`
	Size   float64 `json:"size,omitempty"`
	Bold   bool    `json:"bold,omitempty"`
	RTL    bool    `json:"rtl,omitempty"`
	Align  Align   `json:"align,omitempty"`
	Color  *Color  `json:"color,omitempty"`
	Fill   *Color  `json:"fill,omitempty"`
	Stroke *Color  `json:"stroke,omitempty"`
	Src    string  `json:"src,omitempty"`
}

type Page struct {
	Number int  `json:"number"`
	Ops    []Op `json:"ops"`
}

type Document struct {
	Geometry Geometry `json:"geometry"`
	Pages    []Page   `json:"pages"`
}

// Texts returns the text of every text op on the page, in emission order.
func (p Page) Texts() []string {
	var out []string
	for _, op := range p.Ops {
		if op.Kind == OpText {
			out = append(out, op.Text)
		}
	}
	return out
}

// Images returns the sources of all image ops in the document in order.
func (d Document) Images() []string {
	var out []string
	for _, p := range d.Pages {
		for _, op := range p.Ops {
			if op.Kind == OpImage {
				out = append(out, op.Src)
			}
		}
	}
	return out
}

// Branding is the fixed institutional text of the banner and footer.
type Branding struct {
	Institution  string `json:"institution"`
	FormTitle    string `json:"form_title"`
	ContactLine  string `json:"contact_line"`
	ContactEmail string `json:"contact_email"`
}

func DefaultBranding() Branding {
	return Branding{
		Institution:  `"Hospital Name" Medical Research, Infrastructure & Services Ltd.`,
		FormTitle:    "INVENTION DISCLOSURE FORM (IDF)",
		ContactLine:  "PLEASE FEEL FREE TO CONTACT US FOR QUESTIONS:",
		ContactEmail: "amitgill@gmail.com",
	}
}
