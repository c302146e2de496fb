package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/registry"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	nameColor = color.New(color.Bold)
)

func connectionStateColor(state device.ConnectionState) *color.Color {
	switch state {
	case device.Connected:
		return okColor
	case device.Connecting:
		return warnColor
	default:
		return failColor
	}
}

func sessionStateColor(state device.SessionState) *color.Color {
	switch state {
	case device.SessionActive, device.SessionCompleted:
		return okColor
	case device.SessionFailed:
		return failColor
	default:
		return warnColor
	}
}

func printConnectionState(w io.Writer, e event.ConnectionStateChanged) {
	line := fmt.Sprintf("%s: %s", e.DeviceID, connectionStateColor(e.State).Sprint(e.State))
	if e.Err != nil {
		line += fmt.Sprintf(" (%v)", e.Err)
	}
	fmt.Fprintln(w, line)
}

func printStreamState(w io.Writer, e event.StreamStateChanged) {
	line := fmt.Sprintf("%s %s stream: %s", e.DeviceID, e.Feature, sessionStateColor(e.State).Sprint(e.State))
	if e.Err != nil && e.State == device.SessionFailed {
		line += fmt.Sprintf(" (%s)", FormatUserError(e.Err))
	}
	fmt.Fprintln(w, line)
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func displayDevicesTable(w io.Writer, devices []device.Descriptor) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tRSSI")
	fmt.Fprintln(tw, strings.Repeat("-", 64))
	for _, d := range devices {
		name := d.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d dBm\n", d.ID, nameColor.Sprint(name), d.Address, d.RSSI)
	}
	return tw.Flush()
}

func displayRecordTable(w io.Writer, rec registry.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Device:\t%s\n", rec.DeviceID)
	if rec.Address != "" {
		fmt.Fprintf(tw, "Address:\t%s\n", rec.Address)
	}
	fmt.Fprintf(tw, "State:\t%s\n", connectionStateColor(rec.State).Sprint(rec.State))
	if rec.BatteryLevel != nil {
		fmt.Fprintf(tw, "Battery:\t%d%%\n", *rec.BatteryLevel)
	}
	for _, key := range []string{"manufacturer_name", "model_number", "serial_number", "hardware_revision", "firmware_revision", "software_revision"} {
		if v, ok := rec.Info[key]; ok {
			fmt.Fprintf(tw, "%s:\t%s\n", strings.ReplaceAll(key, "_", " "), v)
		}
	}
	if len(rec.Features) > 0 {
		names := make([]string, len(rec.Features))
		for i, f := range rec.Features {
			names[i] = f.String()
		}
		fmt.Fprintf(tw, "Features:\t%s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(tw, "Heart rate:\t%t\n", rec.HRReady)
	return tw.Flush()
}

func displaySettingsTable(w io.Writer, feature device.Feature, available, full device.Settings, cfg device.Configuration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Feature:\t%s\n", feature)
	fmt.Fprintf(tw, "Available:\t%s\n", available)
	fmt.Fprintf(tw, "Full:\t%s\n", full)
	fmt.Fprintf(tw, "Selected:\t%s\n", okColor.Sprint(cfg))
	return tw.Flush()
}
