package docpipe

// Format is a closed classification of a document's container type.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDocx    Format = "docx"
	FormatDoc     Format = "doc"
	FormatRTF     Format = "rtf"
	FormatODF     Format = "odf"
	FormatXlsx    Format = "xlsx"
	FormatPptx    Format = "pptx"
	FormatEPUB    Format = "epub"
	FormatImage   Format = "image"
	FormatTXT     Format = "txt"
	FormatCSV     Format = "csv"
	FormatMD      Format = "md"
	FormatHTML    Format = "html"
	FormatXML     Format = "xml"
	FormatUnknown Format = ""
)

// Family groups formats by document kind.
type Family string

const (
	FamilyPDF            Family = "pdf"
	FamilyWordProcessing Family = "word-processing"
	FamilySpreadsheet    Family = "spreadsheet"
	FamilyPresentation   Family = "presentation"
	FamilyEBook          Family = "e-book"
	FamilyImage          Family = "image"
	FamilyText           Family = "text"
	FamilyWeb            Family = "web"
)

// Family returns the document family of f.
func (f Format) Family() Family {
	switch f {
	case FormatPDF:
		return FamilyPDF
	case FormatDocx, FormatDoc, FormatRTF, FormatODF:
		return FamilyWordProcessing
	case FormatXlsx:
		return FamilySpreadsheet
	case FormatPptx:
		return FamilyPresentation
	case FormatEPUB:
		return FamilyEBook
	case FormatImage:
		return FamilyImage
	case FormatTXT, FormatCSV, FormatMD:
		return FamilyText
	case FormatHTML, FormatXML:
		return FamilyWeb
	}
	return ""
}

// supportsOCR reports whether the OCR strategy applies to f.
func (f Format) supportsOCR() bool {
	return f == FormatPDF || f == FormatImage
}

// Document is the aggregate result: full content and metadata bundled.
type Document struct {
	Format   Format   `json:"format"`
	MIME     string   `json:"mime"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Detection is the outcome of format detection.
type Detection struct {
	Format Format `json:"format"`
	Family Family `json:"family"`
	MIME   string `json:"mime"`
}
