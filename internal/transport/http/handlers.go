package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dmchat/internal/authz"
	"dmchat/internal/blob"
	"dmchat/internal/domain"
	"dmchat/internal/service"
)

// multipart parts above this size spill to temp files.
const multipartMemory = 8 << 20

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sendRequest struct {
	Text        string              `json:"text,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ClientMsgID string              `json:"clientMsgId,omitempty"`
}

type messageResponse struct {
	Msg string `json:"msg"`
}

func subject(r *http.Request) domain.UserID {
	sub, _ := authz.SubjectFrom(r.Context())
	return sub
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var in service.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.accounts.Signup(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.accounts.Login(r.Context(), in.Identifier, in.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), subject(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Msg: "logged out"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.Me(r.Context(), subject(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var patch service.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.accounts.UpdateProfile(r.Context(), subject(r), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context(), subject(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Msg: "account deleted"})
}

func (h *Handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.SearchUsers(r.Context(), subject(r), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, fmt.Errorf("%w: bad limit", domain.ErrInvalidRequest))
			return
		}
		limit = n
	}
	users, err := h.accounts.ListUsers(r.Context(), subject(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) userProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.accounts.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.agg.ConversationsFor(r.Context(), subject(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.router.History(r.Context(), subject(r), chi.URLParam(r, "peerId"), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.router.Send(r.Context(), service.SendInput{
		SenderID:    subject(r),
		RecipientID: chi.URLParam(r, "peerId"),
		Text:        req.Text,
		Attachments: req.Attachments,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "uploads disabled"})
		return
	}
	// headroom for multipart framing around the file part
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: missing file part", domain.ErrInvalidRequest))
		return
	}
	defer file.Close()

	att, err := h.blobs.Put(r.Context(), blob.Object{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("attachment uploaded", logAttrs(r, "user_id", subject(r), "filename", att.Filename, "size", att.Size)...)
	writeJSON(w, http.StatusCreated, att)
}

func pageFromQuery(r *http.Request) (domain.Page, error) {
	var page domain.Page
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return page, fmt.Errorf("%w: bad after cursor", domain.ErrInvalidRequest)
		}
		page.After = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, fmt.Errorf("%w: bad limit", domain.ErrInvalidRequest)
		}
		page.Limit = n
	}
	return page, nil
}
