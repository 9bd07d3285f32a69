package handler

import (
	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// Entry is one name/value pair of a GetAll reply.
type Entry struct {
	Name  string
	Value []byte
}

// Entries decodes the three GetAll fields of a reply into name/value
// pairs. It fails with ErrFault when the fields do not describe the same
// entries.
func (r *GetReply) Entries() ([]Entry, error) {
	return DecodeEntries(r.EAData, r.EAVals, r.EAValsLens)
}

// DecodeEntries decodes a name blob, a value blob and a length array.
func DecodeEntries(names, vals, lens []byte) ([]Entry, error) {
	nameList := xattr.SplitNames(names)
	lengths := xattr.DecodeLens(lens)
	if len(nameList) != len(lengths) {
		return nil, xattr.NewError(xattr.ErrFault, "", "%d names but %d value lengths", len(nameList), len(lengths))
	}

	entries := make([]Entry, 0, len(nameList))
	off := 0
	for i, name := range nameList {
		end := off + int(lengths[i])
		if end > len(vals) {
			return nil, xattr.NewError(xattr.ErrFault, name, "value overruns value blob")
		}
		entries = append(entries, Entry{Name: name, Value: vals[off:end]})
		off = end
	}
	if off != len(vals) {
		return nil, xattr.NewError(xattr.ErrFault, "", "%d trailing value bytes", len(vals)-off)
	}
	return entries, nil
}

// The methods below are the in-process form of the five operations. They
// build the request, run the same state machines as the wire handlers and
// return the typed error instead of an errno.

// Get returns the value of name.
func (h *Handler) Get(rctx *RequestContext, f fid.FID, name string) ([]byte, error) {
	reply, err := h.getxattr(rctx, &GetRequest{
		FID:          f,
		Valid:        ValidXattr,
		Name:         name,
		MaxReplySize: xattr.SizeMax,
	}, xattr.OpGet)
	if err != nil {
		return nil, err
	}
	return reply.EAData, nil
}

// List returns the attribute names of f.
func (h *Handler) List(rctx *RequestContext, f fid.FID) ([]string, error) {
	reply, err := h.getxattr(rctx, &GetRequest{
		FID:          f,
		Valid:        ValidXattrList,
		MaxReplySize: xattr.SizeMax,
	}, xattr.OpList)
	if err != nil {
		return nil, err
	}
	return xattr.SplitNames(reply.EAData), nil
}

// GetAll returns every attribute of f, bounded by maxReplySize value bytes.
func (h *Handler) GetAll(rctx *RequestContext, f fid.FID, maxReplySize int) ([]Entry, error) {
	reply, err := h.getxattr(rctx, &GetRequest{
		FID:          f,
		Valid:        ValidXattrAll,
		MaxReplySize: maxReplySize,
	}, xattr.OpGetAll)
	if err != nil {
		return nil, err
	}
	return reply.Entries()
}

// Set stores value under name with the server's current time as change
// time. It reports whether the name was a reserved no-op.
func (h *Handler) Set(rctx *RequestContext, f fid.FID, name string, value []byte, flags xattr.SetFlags) (bool, error) {
	reply, err := h.setxattr(rctx, &SetRequest{
		FID:   f,
		Valid: ValidXattr | ValidCtime,
		Name:  name,
		Value: value,
		Flags: flags,
		Ctime: h.now(),
	}, xattr.OpSet)
	if err != nil {
		return false, err
	}
	return reply.NoOp, nil
}

// Remove deletes name. Removing an absent attribute fails with ErrNoData.
func (h *Handler) Remove(rctx *RequestContext, f fid.FID, name string) (bool, error) {
	reply, err := h.setxattr(rctx, &SetRequest{
		FID:   f,
		Valid: ValidXattrRemove | ValidCtime,
		Name:  name,
		Ctime: h.now(),
	}, xattr.OpRemove)
	if err != nil {
		return false, err
	}
	return reply.NoOp, nil
}
