package wasm

import (
	wbin "github.com/wippyai/chainvm/wasm/internal/binary"
)

// Encode serializes the module. Custom sections are written last.
func (m *Module) Encode() []byte {
	w := wbin.NewWriter()
	w.WriteBytes([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	if len(m.Types) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Types)))
		for _, t := range m.Types {
			s.Byte(0x60)
			writeValTypes(s, t.Params)
			writeValTypes(s, t.Results)
		}
		w.Section(SectionType, s.Bytes())
	}

	if len(m.Imports) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			s.WriteName(imp.Module)
			s.WriteName(imp.Name)
			s.Byte(imp.Kind)
			switch imp.Kind {
			case KindFunc:
				s.WriteU32(imp.TypeIdx)
			case KindTable:
				writeTable(s, *imp.Table)
			case KindMemory:
				writeLimits(s, *imp.Memory)
			case KindGlobal:
				writeGlobalType(s, *imp.Global)
			}
		}
		w.Section(SectionImport, s.Bytes())
	}

	if len(m.Funcs) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Funcs)))
		for _, t := range m.Funcs {
			s.WriteU32(t)
		}
		w.Section(SectionFunction, s.Bytes())
	}

	if len(m.Tables) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTable(s, t)
		}
		w.Section(SectionTable, s.Bytes())
	}

	if len(m.Memories) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Memories)))
		for _, l := range m.Memories {
			writeLimits(s, l)
		}
		w.Section(SectionMemory, s.Bytes())
	}

	if len(m.Globals) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(s, g.GlobalType)
			s.WriteBytes(g.Init)
		}
		w.Section(SectionGlobal, s.Bytes())
	}

	if len(m.Exports) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Exports)))
		for _, e := range m.Exports {
			s.WriteName(e.Name)
			s.Byte(e.Kind)
			s.WriteU32(e.Index)
		}
		w.Section(SectionExport, s.Bytes())
	}

	if m.Start != nil {
		s := wbin.NewWriter()
		s.WriteU32(*m.Start)
		w.Section(SectionStart, s.Bytes())
	}

	if len(m.Elements) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Elements)))
		for _, e := range m.Elements {
			s.WriteU32(0)
			s.WriteBytes(e.Offset)
			s.WriteU32(uint32(len(e.Funcs)))
			for _, f := range e.Funcs {
				s.WriteU32(f)
			}
		}
		w.Section(SectionElement, s.Bytes())
	}

	if m.DataCount != nil {
		s := wbin.NewWriter()
		s.WriteU32(*m.DataCount)
		w.Section(SectionDataCount, s.Bytes())
	}

	if len(m.Code) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			b := wbin.NewWriter()
			b.WriteU32(uint32(len(body.Locals)))
			for _, l := range body.Locals {
				b.WriteU32(l.Count)
				b.Byte(byte(l.Type))
			}
			b.WriteBytes(body.Code)
			s.WriteVec(b.Bytes())
		}
		w.Section(SectionCode, s.Bytes())
	}

	if len(m.Data) > 0 {
		s := wbin.NewWriter()
		s.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			if d.Passive {
				s.WriteU32(1)
			} else {
				s.WriteU32(0)
				s.WriteBytes(d.Offset)
			}
			s.WriteVec(d.Init)
		}
		w.Section(SectionData, s.Bytes())
	}

	for _, c := range m.Customs {
		s := wbin.NewWriter()
		s.WriteName(c.Name)
		s.WriteBytes(c.Data)
		w.Section(SectionCustom, s.Bytes())
	}

	return w.Bytes()
}

func writeValTypes(w *wbin.Writer, vts []ValType) {
	w.WriteU32(uint32(len(vts)))
	for _, v := range vts {
		w.Byte(byte(v))
	}
}

func writeLimits(w *wbin.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(0x01)
		w.WriteU32(l.Min)
		w.WriteU32(*l.Max)
		return
	}
	w.Byte(0x00)
	w.WriteU32(l.Min)
}

func writeTable(w *wbin.Writer, t Table) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *wbin.Writer, g GlobalType) {
	w.Byte(byte(g.Type))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
