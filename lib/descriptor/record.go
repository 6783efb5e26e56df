package descriptor

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the persisted protobuf record.
const (
	fieldName protowire.Number = iota + 1
	fieldDescription
	fieldFilename
	fieldVersion
	fieldLicense
	fieldSource
	fieldPackage
	fieldOrigin
	fieldReleaseDate
	fieldSize
	fieldMTime
	fieldFlags
	fieldDependency
	fieldFeature
)

const (
	featureName protowire.Number = iota + 1
	featureKind
	featureRank
)

// MarshalBinary encodes d as a protobuf record for persistent storage.
func (d *Descriptor) MarshalBinary() ([]byte, error) {
	var b []byte
	for i, s := range d.strings() {
		if *s == "" {
			continue
		}
		b = protowire.AppendTag(b, fieldName+protowire.Number(i), protowire.BytesType)
		b = protowire.AppendString(b, *s)
	}
	if d.Size != 0 {
		b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Size))
	}
	if ns := unixNano(d.MTime); ns != 0 {
		b = protowire.AppendTag(b, fieldMTime, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(ns))
	}
	if d.Flags != 0 {
		b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Flags))
	}
	for _, dep := range d.Dependencies {
		b = protowire.AppendTag(b, fieldDependency, protowire.BytesType)
		b = protowire.AppendString(b, dep)
	}
	for _, f := range d.Features {
		var fb []byte
		fb = protowire.AppendTag(fb, featureName, protowire.BytesType)
		fb = protowire.AppendString(fb, f.Name)
		fb = protowire.AppendTag(fb, featureKind, protowire.BytesType)
		fb = protowire.AppendString(fb, f.Kind)
		fb = protowire.AppendTag(fb, featureRank, protowire.VarintType)
		fb = protowire.AppendVarint(fb, uint64(f.Rank))

		b = protowire.AppendTag(b, fieldFeature, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary into d. Unknown
// fields are skipped.
func (d *Descriptor) UnmarshalBinary(b []byte) error {
	*d = Descriptor{}
	fields := d.strings()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decode record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num >= fieldName && num <= fieldReleaseDate && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
			}
			*fields[num-fieldName] = s
			b = b[n:]
		case num == fieldSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("decode size: %w", protowire.ParseError(n))
			}
			d.Size = int64(v)
			b = b[n:]
		case num == fieldMTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("decode mtime: %w", protowire.ParseError(n))
			}
			d.MTime = time.Unix(0, int64(v))
			b = b[n:]
		case num == fieldFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("decode flags: %w", protowire.ParseError(n))
			}
			d.Flags = Flags(v)
			b = b[n:]
		case num == fieldDependency && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("decode dependency: %w", protowire.ParseError(n))
			}
			d.Dependencies = append(d.Dependencies, s)
			b = b[n:]
		case num == fieldFeature && typ == protowire.BytesType:
			fb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("decode feature: %w", protowire.ParseError(n))
			}
			f, err := unmarshalFeature(fb)
			if err != nil {
				return err
			}
			d.Features = append(d.Features, f)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalFeature(b []byte) (Feature, error) {
	var f Feature
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, fmt.Errorf("decode feature tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == featureName && typ == protowire.BytesType:
			f.Name, n = protowire.ConsumeString(b)
		case num == featureKind && typ == protowire.BytesType:
			f.Kind, n = protowire.ConsumeString(b)
		case num == featureRank && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			f.Rank = uint32(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return f, fmt.Errorf("decode feature field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return f, nil
}
