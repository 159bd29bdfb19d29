package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/park285/cheese-relay/pkg/relaydto"
)

func (s *Server) aiGenerateMessage(w http.ResponseWriter, r *http.Request) {
	var req relaydto.AIGenerateMessageRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	text, err := s.d.TextGen.CoachMessage(r.Context(), req.Context, req.Intent)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": text})
}

func (s *Server) aiSuggestReply(w http.ResponseWriter, r *http.Request) {
	var req relaydto.AISuggestReplyRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	text, err := s.d.TextGen.SuggestReply(r.Context(), req.LastMessage, req.Tone)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"suggestion": text})
}

func (s *Server) aiAnalyzeTone(w http.ResponseWriter, r *http.Request) {
	var req relaydto.AIAnalyzeToneRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	text, err := s.d.TextGen.AnalyzeTone(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tone": text})
}

func (s *Server) aiTranslate(w http.ResponseWriter, r *http.Request) {
	var req relaydto.AITranslateMessageRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	text, err := s.d.TextGen.Translate(r.Context(), req.Message, req.TargetLanguage)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"translation": text})
}

func (s *Server) aiProfiles(w http.ResponseWriter, r *http.Request) {
	out, err := s.d.Backend.ListProfiles(r.Context(), authHeader(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// aiCreateProfile generates Count profiles and stores them in one batch.
func (s *Server) aiCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req relaydto.AICreateProfileRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	count := lo.Ternary(req.Count > 0, req.Count, 1)
	relType := lo.Ternary(strings.TrimSpace(req.RelationshipType) != "", req.RelationshipType, "serious")

	profiles := make([]relaydto.AIProfile, 0, count)
	for range count {
		p, err := s.generateProfile(r.Context(), relType)
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		profiles = append(profiles, p)
	}
	out, err := s.d.Backend.CreateProfiles(r.Context(), authHeader(r), map[string]any{"profiles": profiles})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

type generatedProfile struct {
	Name      string   `json:"name"`
	Age       *int     `json:"age"`
	Gender    string   `json:"gender"`
	Bio       string   `json:"bio"`
	Interests []string `json:"interests"`
	City      string   `json:"city"`
	Country   string   `json:"country"`
}

func (s *Server) generateProfile(ctx context.Context, relType string) (relaydto.AIProfile, error) {
	raw, err := s.d.TextGen.ProfileText(ctx, relType)
	if err != nil {
		return relaydto.AIProfile{}, err
	}
	return buildProfile(raw, relType), nil
}

// buildProfile reads the generated JSON; text that is not JSON becomes the
// bio of a stock profile.
func buildProfile(raw, relType string) relaydto.AIProfile {
	var g generatedProfile
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &g); err != nil {
		bio := raw
		if len(bio) > 200 {
			bio = bio[:200]
		}
		return relaydto.AIProfile{
			Name:             "Ava",
			Age:              26,
			Gender:           "female",
			RelationshipType: relType,
			Bio:              bio,
			Interests:        []string{"Travel", "Music", "Reading", "Hiking", "Cooking"},
			City:             "Paris",
			Country:          "France",
		}
	}
	p := relaydto.AIProfile{
		Name:             lo.Ternary(g.Name != "", g.Name, "Alex"),
		Age:              25,
		Gender:           lo.Ternary(g.Gender != "", g.Gender, "female"),
		RelationshipType: relType,
		Bio:              g.Bio,
		Interests:        lo.Ternary(g.Interests != nil, g.Interests, []string{}),
		City:             g.City,
		Country:          g.Country,
	}
	if g.Age != nil {
		p.Age = *g.Age
	}
	return p
}

func (s *Server) aiEligibility(w http.ResponseWriter, r *http.Request) {
	var req relaydto.EligibilityRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"eligible": req.AgeMin <= req.AgeMax})
}

func (s *Server) aiProposeMatch(w http.ResponseWriter, r *http.Request) {
	var req relaydto.MatchProposalRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, relaydto.MatchProposalResponse{Proposed: true, UserID: req.UserID, TargetID: req.TargetID})
}
