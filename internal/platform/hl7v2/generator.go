package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// PatientInfo carries the demographic fields emitted into a PID segment.
type PatientInfo struct {
	MRN         string
	Family      string
	Given       string
	BirthDate   string // YYYYMMDD
	Gender      string // HL7 administrative sex code: M, F, O, U
	AddressLine string
	City        string
	State       string
	PostalCode  string
	Phone       string
}

// ObservationInfo carries one OBX segment's worth of result data.
type ObservationInfo struct {
	Code       string
	Display    string
	Value      string
	Unit       string
	ObservedAt time.Time
}

// AllergyInfo carries one AL1 segment's worth of allergy data.
type AllergyInfo struct {
	Code     string
	Display  string
	Severity string // SV, MO, MI
	Reaction string
}

// GenerateADT builds an ADT message carrying patient demographics.
// event is the trigger code, typically "A08" (update patient information)
// for outbound demographic sync or "A04" (register) for first contact.
func GenerateADT(event string, p PatientInfo) ([]byte, error) {
	if p.MRN == "" {
		return nil, fmt.Errorf("hl7v2: patient MRN is required")
	}

	segments := []string{
		buildMSH("ADT", event),
		buildEVN(event),
		buildPID(p),
	}
	return []byte(strings.Join(segments, "\r")), nil
}

// GenerateORU builds an ORU^R01 message carrying observation results and
// any known allergies for the patient.
func GenerateORU(p PatientInfo, observations []ObservationInfo, allergies []AllergyInfo) ([]byte, error) {
	if p.MRN == "" {
		return nil, fmt.Errorf("hl7v2: patient MRN is required")
	}

	segments := []string{
		buildMSH("ORU", "R01"),
		buildPID(p),
	}
	for i, obs := range observations {
		segments = append(segments, buildOBX(i+1, obs))
	}
	for i, al := range allergies {
		segments = append(segments, buildAL1(i+1, al))
	}
	return []byte(strings.Join(segments, "\r")), nil
}

func buildMSH(msgType, trigger string) string {
	now := time.Now().UTC()
	timestamp := now.Format("20060102150405")
	controlID := fmt.Sprintf("MSG%s", now.Format("20060102150405.000"))

	return fmt.Sprintf("MSH|^~\\&|EHRSYNC|SyncHub|MEDITECH|MedFac|%s||%s^%s|%s|P|2.5.1",
		timestamp, msgType, trigger, controlID)
}

func buildEVN(event string) string {
	return fmt.Sprintf("EVN|%s|%s", event, time.Now().UTC().Format("20060102150405"))
}

func buildPID(p PatientInfo) string {
	name := escape(p.Family) + "^" + escape(p.Given)
	addr := fmt.Sprintf("%s^^%s^%s^%s", escape(p.AddressLine), escape(p.City), escape(p.State), escape(p.PostalCode))
	return fmt.Sprintf("PID|1||%s||%s||%s|%s|||%s||%s",
		escape(p.MRN), name, p.BirthDate, p.Gender, addr, escape(p.Phone))
}

func buildOBX(setID int, obs ObservationInfo) string {
	observed := ""
	if !obs.ObservedAt.IsZero() {
		observed = obs.ObservedAt.UTC().Format("20060102150405")
	}
	return fmt.Sprintf("OBX|%d|ST|%s^%s^LN||%s|%s|||||F|||%s",
		setID, escape(obs.Code), escape(obs.Display), escape(obs.Value), escape(obs.Unit), observed)
}

func buildAL1(setID int, al AllergyInfo) string {
	return fmt.Sprintf("AL1|%d|DA|%s^%s|%s|%s",
		setID, escape(al.Code), escape(al.Display), al.Severity, escape(al.Reaction))
}

// escape replaces HL7v2 delimiter characters with their escape sequences.
func escape(s string) string {
	r := strings.NewReplacer(
		`\`, `\E\`,
		"|", `\F\`,
		"^", `\S\`,
		"~", `\R\`,
		"&", `\T\`,
	)
	return r.Replace(s)
}
