package endpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxBodyBytes is the request body limit used when a Decoder does not
// set one.
const DefaultMaxBodyBytes int64 = 16 * 1024 // 16KB

var defaultDecoder = NewDecoder(DefaultMaxBodyBytes)

// Decoder turns a request body into a params struct.
//
// Supported body media types:
//   - application/json and any +json suffix (encoding/json)
//   - application/cbor (fxamacker/cbor)
//
// A non-empty body without a Content-Type is rejected with 415.
//
// Field names match the json/cbor tags exactly. A key that differs from a
// tag only by case does not populate the field.
//
// After decoding, the struct is checked with go-playground/validator, so
// presence of a field is expressed with `validate:"required"`. A required
// pointer field is satisfied by any non-nil value, including a pointer to
// the zero value.
//
// Unknown fields in the body are ignored.
type Decoder struct {
	// MaxBodyBytes caps the request body. Zero or negative means no limit.
	MaxBodyBytes int64

	validate *validator.Validate
}

// NewDecoder returns a Decoder with the given body limit.
func NewDecoder(maxBodyBytes int64) *Decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Decoder{MaxBodyBytes: maxBodyBytes, validate: v}
}

// Unmarshal decodes r into dst using the default Decoder.
func Unmarshal(r *http.Request, dst any) error {
	return defaultDecoder.Unmarshal(r, dst)
}

// Unmarshal populates dst (a non-nil pointer to a struct, or to a pointer to
// a struct) from the request body.
//
// Errors are EndpointErrors:
//   - 400 for malformed bodies, type mismatches and failed validation
//   - 413 when the body exceeds MaxBodyBytes
//   - 415 for an unsupported Content-Type
//   - 500 when dst has an unusable type
func (d *Decoder) Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}

	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}

	body, err := d.readBody(r)
	if err != nil {
		return err
	}

	if len(bytes.TrimSpace(body)) > 0 {
		unmarshal, err := bodyCodec(r)
		if err != nil {
			return err
		}
		if err := unmarshal(body, root.Addr().Interface()); err != nil {
			return err
		}
	}

	// Structs with no fields have nothing to validate.
	if root.NumField() == 0 {
		return nil
	}
	return d.check(root.Addr().Interface())
}

func (d *Decoder) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	var src io.Reader = r.Body
	if d.MaxBodyBytes > 0 {
		src = http.MaxBytesReader(nil, r.Body, d.MaxBodyBytes)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, newEndpointError(http.StatusRequestEntityTooLarge, "", fmt.Errorf("body exceeds %d bytes", mbe.Limit))
		}
		return nil, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (d *Decoder) check(dst any) error {
	err := d.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: validate: %w", err))
	}
	fe := verrs[0]
	msg := fmt.Sprintf("invalid field %q", fe.Field())
	if fe.Tag() == "required" {
		msg = fmt.Sprintf("missing field %q", fe.Field())
	}
	return newEndpointError(http.StatusBadRequest, msg, err)
}

type unmarshalFunc func(data []byte, dst any) error

func bodyCodec(r *http.Request) (unmarshalFunc, error) {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return nil, newEndpointError(http.StatusUnsupportedMediaType, "", errors.New("missing content-type"))
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("parse content-type: %w", err))
	}
	mt = strings.ToLower(mt)
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return unmarshalJSON, nil
	case mt == "application/cbor":
		return unmarshalCBOR, nil
	}
	return nil, newEndpointError(http.StatusUnsupportedMediaType, "", fmt.Errorf("unsupported content-type %q", mt))
}

func unmarshalJSON(data []byte, dst any) error {
	// encoding/json folds case when matching keys to fields, so only keys
	// that equal a field's wire name exactly are passed through.
	var obj map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&obj); err != nil {
		return newEndpointError(http.StatusBadRequest, "malformed JSON body", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return newEndpointError(http.StatusBadRequest, "malformed JSON body", errors.New("trailing data after JSON value"))
	}

	names := jsonNames(reflect.TypeOf(dst).Elem())
	exact := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		if names[k] {
			exact[k] = v
		}
	}
	filtered, err := json.Marshal(exact)
	if err != nil {
		return newEndpointError(http.StatusBadRequest, "malformed JSON body", err)
	}

	if err := json.Unmarshal(filtered, dst); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) && ute.Field != "" {
			return newEndpointError(http.StatusBadRequest, fmt.Sprintf("invalid type for field %q", ute.Field), err)
		}
		return newEndpointError(http.StatusBadRequest, "malformed JSON body", err)
	}
	return nil
}

// jsonNames returns the top-level keys encoding/json would bind for struct
// type t, following untagged embedded structs.
func jsonNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := strings.SplitN(tag, ",", 2)[0]
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				for n := range jsonNames(ft) {
					names[n] = true
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = true
	}
	return names
}

var cborDecMode = mustDecMode(cbor.DecOptions{
	FieldNameMatching: cbor.FieldNameMatchingCaseSensitive,
})

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

func unmarshalCBOR(data []byte, dst any) error {
	if err := cborDecMode.Unmarshal(data, dst); err != nil {
		var ute *cbor.UnmarshalTypeError
		if errors.As(err, &ute) {
			return newEndpointError(http.StatusBadRequest, "invalid type in CBOR body", err)
		}
		return newEndpointError(http.StatusBadRequest, "malformed CBOR body", err)
	}
	return nil
}
