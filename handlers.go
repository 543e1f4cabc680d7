package agora

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

const maxBodyBytes = 1 << 20

// writeJSON encodes v as the response body.
func (s *Server) writeJSON(res http.ResponseWriter, status int, v interface{}) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	if err := json.NewEncoder(res).Encode(v); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// fail responds with the status matching err and logs it, loudly when it is
// the server's fault.
func (s *Server) fail(res http.ResponseWriter, req *http.Request, err error, msg string) {
	status := respondError(res, req, err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error().Err(err).Str("path", req.URL.Path).Msg(msg)
	} else {
		s.Logger.Debug().Err(err).Int("status", status).Str("path", req.URL.Path).Msg(msg)
	}
}

func decodeJSON(res http.ResponseWriter, req *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(res, req.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return BadRequest(err)
	}
	return nil
}

// HandleHealth tells load balancers the process is up.
func (s *Server) HandleHealth() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.writeJSON(res, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type votePayload struct {
	TargetID   string     `json:"target_id"`
	TargetKind TargetKind `json:"target_kind"`
	Direction  Direction  `json:"direction"`
}

// HandleVote handles requests casting, switching or retracting a vote for the
// current user.
func (s *Server) HandleVote() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		user := ctxUser(req.Context())

		var payload votePayload
		if err := decodeJSON(res, req, &payload); err != nil {
			s.fail(res, req, err, "Failed to parse vote")
			return
		}

		result, err := s.engine.Vote(req.Context(), VoteRequest{
			VoterID:   user.ID,
			TargetID:  payload.TargetID,
			Kind:      payload.TargetKind,
			Direction: payload.Direction,
		})
		if err != nil {
			s.fail(res, req, err, "Failed to vote")
			return
		}

		s.writeJSON(res, http.StatusOK, result)
	}
}

// HandleShowVote handles requests for the current user's vote on a target.
func (s *Server) HandleShowVote() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		user := ctxUser(req.Context())

		kind := TargetKind(params.ByName("kind"))
		if !kind.Valid() {
			err := fmt.Errorf("unknown target kind %q: %w", kind, ErrInvalidInput)
			s.fail(res, req, UnprocessableEntityWithError(err, "kind"), "Invalid target kind")
			return
		}

		v, err := s.engine.CurrentVote(req.Context(), user.ID, params.ByName("id"), kind)
		if err != nil {
			s.fail(res, req, Maybe404(err), "Failed to fetch vote")
			return
		}

		s.writeJSON(res, http.StatusOK, map[string]interface{}{"vote": v})
	}
}

type commentPayload struct {
	ParentID string `json:"parent_id"`
	Body     string `json:"body"`
}

// HandleSubmitComment handles requests posting an answer, or a reply when a
// parent is given.
func (s *Server) HandleSubmitComment() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		user := ctxUser(req.Context())

		var payload commentPayload
		if err := decodeJSON(res, req, &payload); err != nil {
			s.fail(res, req, err, "Failed to parse comment")
			return
		}

		comment, err := s.engine.CreateComment(req.Context(), CommentRequest{
			QuestionID: params.ByName("id"),
			ParentID:   payload.ParentID,
			AuthorID:   user.ID,
			Body:       payload.Body,
		})
		if err != nil {
			s.fail(res, req, err, "Failed to create comment")
			return
		}

		res.Header().Set("Location", fmt.Sprintf("/questions/%s/comments", comment.QuestionID))
		s.writeJSON(res, http.StatusCreated, NewCommentPresenter(comment))
	}
}

// HandleListComments handles requests for a question and its comment tree,
// answers ranked, replies below their parent.
func (s *Server) HandleListComments() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		question, tree, err := s.engine.Thread(req.Context(), params.ByName("id"))
		if err != nil {
			s.fail(res, req, Maybe404(err), "Failed to list comments")
			return
		}

		s.writeJSON(res, http.StatusOK, map[string]interface{}{
			"question":           question,
			"accepted_answer_id": question.AcceptedAnswerID.String,
			"comments":           tree.Presenters(NowFunc()),
		})
	}
}

// HandleAcceptAnswer handles requests from a question author marking an answer
// as accepted.
func (s *Server) HandleAcceptAnswer() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		user := ctxUser(req.Context())

		result, err := s.engine.AcceptAnswer(req.Context(), params.ByName("id"), params.ByName("comment_id"), user.ID)
		if err != nil {
			s.fail(res, req, err, "Failed to accept answer")
			return
		}

		s.writeJSON(res, http.StatusOK, result)
	}
}

// HandleDeleteComment handles requests deleting a comment with its replies.
func (s *Server) HandleDeleteComment() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		user := ctxUser(req.Context())

		removed, err := s.engine.DeleteComment(req.Context(), params.ByName("id"), user.ID)
		if err != nil {
			s.fail(res, req, err, "Failed to delete comment")
			return
		}

		s.writeJSON(res, http.StatusOK, map[string]interface{}{"deleted": removed})
	}
}

// HandleShowUser handles requests for a user profile.
func (s *Server) HandleShowUser() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		u, err := s.engine.User(req.Context(), params.ByName("id"))
		if err != nil {
			s.fail(res, req, Maybe404(err), "Failed to find user")
			return
		}

		s.writeJSON(res, http.StatusOK, u)
	}
}

// HandleLeaderboard handles requests listing the top users, by reputation
// unless the type query parameter asks for questions or answers.
func (s *Server) HandleLeaderboard() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		query := req.URL.Query()

		by := LeaderboardKind(query.Get("type"))
		if by != "" && !by.Valid() {
			err := fmt.Errorf("unknown leaderboard %q: %w", by, ErrInvalidInput)
			s.fail(res, req, UnprocessableEntityWithError(err, "type"), "Invalid leaderboard")
			return
		}

		limit := 0
		if raw := query.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				s.fail(res, req, UnprocessableEntityWithError(fmt.Errorf("limit %q: %w", raw, ErrInvalidInput), "limit"), "Invalid leaderboard size")
				return
			}
			limit = n
		}

		standings, err := s.engine.Leaderboard(req.Context(), by, limit)
		if err != nil {
			s.fail(res, req, err, "Failed to rank users")
			return
		}

		s.writeJSON(res, http.StatusOK, standings)
	}
}

// HandleSignOut handles requests destroying the current session.
func (s *Server) HandleSignOut() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if err := s.authService.SignOut(res, req); err != nil {
			s.fail(res, req, err, "Failed to destroy session")
			return
		}
		res.WriteHeader(http.StatusNoContent)
	}
}
