package core

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NF-e layout (portalfiscal namespace). Element names are matched by local name,
// so both the signed distribution envelope (nfeProc) and a bare NFe are accepted.
type nfeEnvelopeXML struct {
	XMLName xml.Name
	NFe     *nfeXML    `xml:"NFe"`
	InfNFe  *infNFeXML `xml:"infNFe"`
}

type nfeXML struct {
	InfNFe *infNFeXML `xml:"infNFe"`
}

type infNFeXML struct {
	ID   string   `xml:"Id,attr"`
	Ide  ideXML   `xml:"ide"`
	Emit partyXML `xml:"emit"`
	Dest partyXML `xml:"dest"`
	Det  []detXML `xml:"det"`
}

type ideXML struct {
	NNF   string `xml:"nNF"`
	Serie string `xml:"serie"`
	DhEmi string `xml:"dhEmi"`
	DEmi  string `xml:"dEmi"`
}

type partyXML struct {
	CNPJ  string      `xml:"CNPJ"`
	CPF   string      `xml:"CPF"`
	XNome string      `xml:"xNome"`
	Ender *addressXML `xml:"enderDest"`
}

type addressXML struct {
	XLgr    string `xml:"xLgr"`
	Nro     string `xml:"nro"`
	XBairro string `xml:"xBairro"`
	XMun    string `xml:"xMun"`
	UF      string `xml:"UF"`
	Fone    string `xml:"fone"`
}

type detXML struct {
	NItem string  `xml:"nItem,attr"`
	Prod  prodXML `xml:"prod"`
}

type prodXML struct {
	CProd  string `xml:"cProd"`
	XProd  string `xml:"xProd"`
	NCM    string `xml:"NCM"`
	CFOP   string `xml:"CFOP"`
	UCom   string `xml:"uCom"`
	QCom   string `xml:"qCom"`
	VUnCom string `xml:"vUnCom"`
}

// ParseNFe converts a raw NF-e XML payload into a ParsedDocument.
// It has no side effects; duplicate detection happens at ingestion.
func ParseNFe(payload []byte) (*ParsedDocument, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, newValidationError("empty payload")
	}

	var env nfeEnvelopeXML
	if err := xml.Unmarshal(payload, &env); err != nil {
		return nil, newValidationError("malformed XML: " + err.Error())
	}

	var inf *infNFeXML
	switch env.XMLName.Local {
	case "nfeProc":
		if env.NFe != nil {
			inf = env.NFe.InfNFe
		}
	case "NFe":
		inf = env.InfNFe
	default:
		return nil, newValidationError(fmt.Sprintf("unexpected root element <%s>: expected nfeProc or NFe", env.XMLName.Local))
	}
	if inf == nil {
		return nil, newValidationError("infNFe element not found")
	}

	doc := &ParsedDocument{Raw: string(payload)}
	h := &doc.Header
	h.AccessKey = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(inf.ID), "NFe"))
	h.Number = strings.TrimSpace(inf.Ide.NNF)
	h.Series = strings.TrimSpace(inf.Ide.Serie)
	h.Issuer = Identity{TaxID: taxID(inf.Emit), Name: strings.TrimSpace(inf.Emit.XNome)}
	h.Recipient = Identity{TaxID: taxID(inf.Dest), Name: strings.TrimSpace(inf.Dest.XNome)}
	if a := inf.Dest.Ender; a != nil {
		h.Address = RecipientAddress{
			Street:   strings.TrimSpace(a.XLgr),
			Number:   strings.TrimSpace(a.Nro),
			District: strings.TrimSpace(a.XBairro),
			City:     strings.TrimSpace(a.XMun),
			State:    strings.TrimSpace(a.UF),
			Phone:    strings.TrimSpace(a.Fone),
		}
	}

	var fieldErrs []FieldError
	emission, err := parseEmissionDate(inf.Ide.DhEmi, inf.Ide.DEmi)
	if err != nil {
		fieldErrs = append(fieldErrs, FieldError{Field: "header.emission_date", Message: err.Error()})
	}
	h.EmissionDate = emission

	for i, det := range inf.Det {
		item, errs := parseItem(i, det)
		fieldErrs = append(fieldErrs, errs...)
		doc.Items = append(doc.Items, item)
	}

	fieldErrs = append(fieldErrs, validateDocument(doc)...)
	if len(fieldErrs) > 0 {
		return nil, newValidationError("invalid NF-e document", fieldErrs...)
	}
	return doc, nil
}

func taxID(p partyXML) string {
	if id := strings.TrimSpace(p.CNPJ); id != "" {
		return id
	}
	return strings.TrimSpace(p.CPF)
}

func parseEmissionDate(dhEmi, dEmi string) (time.Time, error) {
	if s := strings.TrimSpace(dhEmi); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid dhEmi %q", s)
		}
		return t, nil
	}
	if s := strings.TrimSpace(dEmi); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid dEmi %q", s)
		}
		return t, nil
	}
	return time.Time{}, errors.New("missing dhEmi/dEmi")
}

func parseItem(idx int, det detXML) (ParsedItem, []FieldError) {
	prefix := fmt.Sprintf("items[%d]", idx)
	var errs []FieldError

	item := ParsedItem{
		ProductCode: strings.TrimSpace(det.Prod.CProd),
		Description: strings.TrimSpace(det.Prod.XProd),
		Unit:        strings.TrimSpace(det.Prod.UCom),
		NCM:         strings.TrimSpace(det.Prod.NCM),
		CFOP:        strings.TrimSpace(det.Prod.CFOP),
	}

	if s := strings.TrimSpace(det.NItem); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, FieldError{Field: prefix + ".sequence_number", Message: fmt.Sprintf("invalid nItem %q", s)})
		} else {
			item.SequenceNumber = &n
		}
	}

	qty, err := decimal.NewFromString(strings.TrimSpace(det.Prod.QCom))
	switch {
	case err != nil:
		errs = append(errs, FieldError{Field: prefix + ".quantity", Message: fmt.Sprintf("invalid qCom %q", det.Prod.QCom)})
	case !fitsScale(qty, QuantityScale):
		errs = append(errs, FieldError{Field: prefix + ".quantity", Message: fmt.Sprintf("qCom %q has more than %d decimal places", det.Prod.QCom, QuantityScale)})
	}
	item.Quantity = qty

	if s := strings.TrimSpace(det.Prod.VUnCom); s != "" {
		v, err := decimal.NewFromString(s)
		switch {
		case err != nil:
			errs = append(errs, FieldError{Field: prefix + ".unit_value", Message: fmt.Sprintf("invalid vUnCom %q", s)})
		case !fitsScale(v, UnitValueScale):
			errs = append(errs, FieldError{Field: prefix + ".unit_value", Message: fmt.Sprintf("vUnCom %q has more than %d decimal places", s, UnitValueScale)})
		}
		item.UnitValue = v
	}
	return item, errs
}

func validateDocument(doc *ParsedDocument) []FieldError {
	return fieldErrors(structValidator.Struct(doc))
}
