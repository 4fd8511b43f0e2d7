package label

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
)

// XML confidentiality-label interop.
//
// Coalition systems that predate binary labels exchange policy metadata as
// XML confidentiality labels. MarshalXML/UnmarshalXML project a SecurityLabel
// to and from that shape. The XML form is a transport projection only:
// signatures always bind the canonical CBOR form, never the XML text.

const xmlLabelNamespace = "urn:dive:confidentialitylabel:1.0"

// MarshalXML renders the label as an XML confidentiality label document.
func (l *SecurityLabel) MarshalXML() ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ConfidentialityLabel")
	root.CreateAttr("xmlns", xmlLabelNamespace)
	root.CreateAttr("ResourceId", l.ResourceID)

	class := root.CreateElement("Classification")
	class.SetText(l.Classification.String())

	origin := root.CreateElement("OriginatingCountry")
	origin.SetText(strings.ToUpper(strings.TrimSpace(l.OriginCountry)))

	created := root.CreateElement("CreationDateTime")
	created.SetText(l.CreatedAt.UTC().Format(time.RFC3339))

	if len(l.ReleasableTo) > 0 {
		rel := root.CreateElement("ReleasableTo")
		for _, c := range normalizeSet(l.ReleasableTo) {
			country := rel.CreateElement("Country")
			country.SetText(c)
		}
	}

	if len(l.COIRequirement.IDs) > 0 {
		req := root.CreateElement("CommunityOfInterest")
		req.CreateAttr("Operator", string(l.COIRequirement.Operator))
		for _, id := range l.COIRequirement.IDs {
			elem := req.CreateElement("Community")
			elem.SetText(id)
		}
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

// UnmarshalXML parses an XML confidentiality label document. The returned
// label carries no signature; the canonical binding must be re-established
// by the holder of the signing key.
func UnmarshalXML(data []byte) (*SecurityLabel, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing confidentiality label: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "ConfidentialityLabel" {
		return nil, fmt.Errorf("document is not a ConfidentialityLabel")
	}

	l := &SecurityLabel{
		ResourceID: root.SelectAttrValue("ResourceId", ""),
	}

	classElem := root.FindElement("./Classification")
	if classElem == nil {
		return nil, fmt.Errorf("confidentiality label has no Classification")
	}
	lvl, err := parseLevelName(classElem.Text())
	if err != nil {
		return nil, err
	}
	l.Classification = lvl

	if origin := root.FindElement("./OriginatingCountry"); origin != nil {
		l.OriginCountry = strings.TrimSpace(origin.Text())
	}

	if created := root.FindElement("./CreationDateTime"); created != nil {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(created.Text()))
		if err != nil {
			return nil, fmt.Errorf("parsing CreationDateTime: %w", err)
		}
		l.CreatedAt = ts
	}

	for _, country := range root.FindElements("./ReleasableTo/Country") {
		if c := strings.TrimSpace(country.Text()); c != "" {
			l.ReleasableTo = append(l.ReleasableTo, c)
		}
	}

	if req := root.FindElement("./CommunityOfInterest"); req != nil {
		l.COIRequirement.Operator = coi.Operator(req.SelectAttrValue("Operator", string(coi.OperatorAll)))
		for _, community := range req.FindElements("./Community") {
			if id := strings.TrimSpace(community.Text()); id != "" {
				l.COIRequirement.IDs = append(l.COIRequirement.IDs, id)
			}
		}
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func parseLevelName(name string) (clearance.ClearanceLevel, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, lvl := range clearance.Levels() {
		if lvl.String() == name {
			return lvl, nil
		}
	}
	return clearance.Unclassified, fmt.Errorf("unknown classification %q", name)
}
