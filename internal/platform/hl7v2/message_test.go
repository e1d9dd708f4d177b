package hl7v2

import (
	"strings"
	"testing"
	"time"
)

const sampleADT = "MSH|^~\\&|MEDITECH|MedFac|EHRSYNC|SyncHub|20250114093000||ADT^A08|MSG00042|P|2.5.1\r" +
	"EVN|A08|20250114093000\r" +
	"PID|1||MRN001^^^MedFac^MR||Smith^Jane||19840322|F|||123 Main St^^Boston^MA^02115||617-555-0100\r" +
	"AL1|1|DA|70618^Penicillin|SV|Hives"

func TestParse_ADT(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Type != "ADT^A08" {
		t.Errorf("expected ADT^A08, got %q", msg.Type)
	}
	if msg.ControlID != "MSG00042" {
		t.Errorf("expected MSG00042, got %q", msg.ControlID)
	}
	if msg.SendingApp != "MEDITECH" {
		t.Errorf("expected MEDITECH sender, got %q", msg.SendingApp)
	}
	want := time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC)
	if !msg.Timestamp.Equal(want) {
		t.Errorf("expected %v, got %v", want, msg.Timestamp)
	}

	if got := msg.PatientID(); got != "MRN001" {
		t.Errorf("expected MRN001, got %q", got)
	}
	family, given := msg.PatientName()
	if family != "Smith" || given != "Jane" {
		t.Errorf("expected Smith/Jane, got %q/%q", family, given)
	}
	if got := msg.Gender(); got != "F" {
		t.Errorf("expected F, got %q", got)
	}
	if got := msg.DateOfBirth(); got != "19840322" {
		t.Errorf("expected 19840322, got %q", got)
	}

	al1 := msg.GetSegment("AL1")
	if al1 == nil {
		t.Fatal("expected AL1 segment")
	}
	if got := al1.GetComponent(3, 2); got != "Penicillin" {
		t.Errorf("expected Penicillin, got %q", got)
	}
}

func TestParse_RejectsNonMSHFirst(t *testing.T) {
	if _, err := Parse([]byte("PID|1||MRN001")); err == nil {
		t.Fatal("expected error when MSH is not first")
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestParseTimestamp_Formats(t *testing.T) {
	cases := map[string]time.Time{
		"20250114093000": time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC),
		"202501140930":   time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC),
		"20250114":       time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("%s: %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("%s: got %v, want %v", in, got, want)
		}
	}
	if _, err := ParseTimestamp("2025"); err == nil {
		t.Error("expected error for short timestamp")
	}
}

func TestGenerateADT_RoundTrip(t *testing.T) {
	raw, err := GenerateADT("A08", PatientInfo{
		MRN:       "MRN777",
		Family:    "Doe",
		Given:     "John",
		BirthDate: "19620708",
		Gender:    "M",
		City:      "Chicago",
		State:     "IL",
	})
	if err != nil {
		t.Fatalf("GenerateADT: %v", err)
	}

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse generated message: %v", err)
	}
	if msg.Type != "ADT^A08" {
		t.Errorf("expected ADT^A08, got %q", msg.Type)
	}
	if got := msg.PatientID(); got != "MRN777" {
		t.Errorf("expected MRN777, got %q", got)
	}
	family, given := msg.PatientName()
	if family != "Doe" || given != "John" {
		t.Errorf("expected Doe/John, got %q/%q", family, given)
	}
}

func TestGenerateADT_RequiresMRN(t *testing.T) {
	if _, err := GenerateADT("A08", PatientInfo{Family: "Doe"}); err == nil {
		t.Fatal("expected error for missing MRN")
	}
}

func TestGenerateORU_Segments(t *testing.T) {
	raw, err := GenerateORU(
		PatientInfo{MRN: "MRN010", Family: "Lee", Given: "Ana"},
		[]ObservationInfo{
			{Code: "8480-6", Display: "Systolic BP", Value: "120", Unit: "mmHg"},
			{Code: "8462-4", Display: "Diastolic BP", Value: "80", Unit: "mmHg"},
		},
		[]AllergyInfo{{Code: "70618", Display: "Penicillin", Severity: "SV", Reaction: "Hives"}},
	)
	if err != nil {
		t.Fatalf("GenerateORU: %v", err)
	}

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n := len(msg.GetSegments("OBX")); n != 2 {
		t.Errorf("expected 2 OBX segments, got %d", n)
	}
	if n := len(msg.GetSegments("AL1")); n != 1 {
		t.Errorf("expected 1 AL1 segment, got %d", n)
	}
	obx := msg.GetSegments("OBX")[0]
	if got := obx.GetComponent(3, 1); got != "8480-6" {
		t.Errorf("expected 8480-6, got %q", got)
	}
	if got := obx.GetField(5); got != "120" {
		t.Errorf("expected value 120, got %q", got)
	}
}

func TestEscape_Delimiters(t *testing.T) {
	raw, err := GenerateADT("A04", PatientInfo{MRN: "A|B^C", Family: "O~Brien"})
	if err != nil {
		t.Fatalf("GenerateADT: %v", err)
	}
	if strings.Contains(string(raw), "A|B^C") {
		t.Error("expected delimiters in MRN to be escaped")
	}
}
