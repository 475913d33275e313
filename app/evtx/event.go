package evtx

import (
	"sort"
	"strconv"
	"strings"

	"casefile/app/timestamps"
)

// SystemFields are the System element values every event carries, in
// column order.
var SystemFields = []string{
	"TimeCreated",
	"EventRecordID",
	"EventID",
	"Level",
	"Provider",
	"Channel",
	"Computer",
	"Task",
	"Opcode",
	"Keywords",
	"ProcessID",
	"ThreadID",
	"UserID",
}

var systemFieldSet = func() map[string]bool {
	m := make(map[string]bool, len(SystemFields))
	for _, f := range SystemFields {
		m[f] = true
	}
	return m
}()

func eventFrom(roots []*Element, id uint64, written uint64) Event {
	ev := Event{
		RecordID: id,
		Written:  timestamps.FromFileTime(written),
		System:   make(map[string]string, len(SystemFields)),
		Data:     make(map[string]string),
	}
	var root *Element
	for _, r := range roots {
		if localName(r.Name) == "Event" {
			root = r
			break
		}
	}
	if root == nil {
		ev.System["EventRecordID"] = strconv.FormatUint(id, 10)
		ev.System["TimeCreated"] = ev.Written
		return ev
	}

	for _, c := range root.Children {
		switch localName(c.Name) {
		case "System":
			readSystem(c, ev.System)
		case "EventData":
			readEventData(c, &ev)
		case "UserData":
			for _, body := range c.Children {
				flatten(body, "", &ev)
			}
		}
	}
	if ev.System["EventRecordID"] == "" {
		ev.System["EventRecordID"] = strconv.FormatUint(id, 10)
	}
	if ev.System["TimeCreated"] == "" {
		ev.System["TimeCreated"] = ev.Written
	}
	return ev
}

func readSystem(sys *Element, out map[string]string) {
	for _, c := range sys.Children {
		switch name := localName(c.Name); name {
		case "Provider":
			out["Provider"] = c.Attrs["Name"]
		case "TimeCreated":
			out["TimeCreated"] = c.Attrs["SystemTime"]
		case "Execution":
			out["ProcessID"] = c.Attrs["ProcessID"]
			out["ThreadID"] = c.Attrs["ThreadID"]
		case "Security":
			out["UserID"] = c.Attrs["UserID"]
		default:
			if systemFieldSet[name] {
				out[name] = strings.TrimSpace(c.Text)
			}
		}
	}
}

func readEventData(data *Element, ev *Event) {
	unnamed := 0
	for _, c := range data.Children {
		key := c.Attrs["Name"]
		if key == "" {
			unnamed++
			key = localName(c.Name)
			if key == "Data" {
				key = "Data_" + strconv.Itoa(unnamed)
			}
		}
		if len(c.Children) > 0 {
			flatten(c, key, ev)
			continue
		}
		ev.addData(key, c.Text)
	}
}

// flatten records every leaf below e under its dotted path.
func flatten(e *Element, prefix string, ev *Event) {
	for _, c := range e.Children {
		key := localName(c.Name)
		if prefix != "" {
			key = prefix + "." + key
		}
		if len(c.Children) > 0 {
			flatten(c, key, ev)
			continue
		}
		ev.addData(key, c.Text)
	}
	names := make([]string, 0, len(e.Attrs))
	for name := range e.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := e.Attrs[name]
		if name == "xmlns" || strings.HasPrefix(name, "xmlns:") {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		ev.addData(key, v)
	}
}

func (ev *Event) addData(key, v string) {
	if systemFieldSet[key] {
		key = "EventData." + key
	}
	if _, dup := ev.Data[key]; !dup {
		ev.DataKeys = append(ev.DataKeys, key)
	}
	ev.Data[key] = strings.TrimSpace(v)
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}
