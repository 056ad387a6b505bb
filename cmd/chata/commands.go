package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/pipeline"
)

func (a *app) newCmd() *cobra.Command {
	var clinician, email, first, last string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a draft and issue its CHATA-ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			rec, err := s.Create(clinician, email, first, last)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, rec.ChataID)
			return nil
		},
	}
	cmd.Flags().StringVar(&clinician, "clinician", "", "clinician name")
	cmd.Flags().StringVar(&email, "email", "", "clinician email")
	cmd.Flags().StringVar(&first, "child-first", "", "child first name")
	cmd.Flags().StringVar(&last, "child-last", "", "child last name")
	cmd.MarkFlagRequired("clinician")
	cmd.MarkFlagRequired("child-first")
	return cmd
}

type fieldSetter func(r *assessment.Record, v string) error

func text(field func(*assessment.Record) *string) fieldSetter {
	return func(r *assessment.Record, v string) error {
		*field(r) = v
		return nil
	}
}

func score(field func(*assessment.Record) *assessment.Domain) fieldSetter {
	return func(r *assessment.Record, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("score %q is not a number", v)
		}
		field(r).Score = n
		return nil
	}
}

func observations(field func(*assessment.Record) *assessment.Domain) fieldSetter {
	return func(r *assessment.Record, v string) error {
		field(r).Observations = v
		return nil
	}
}

// fields maps the names accepted by "set" to record fields.
var fields = func() map[string]fieldSetter {
	m := map[string]fieldSetter{
		"clinician":       text(func(r *assessment.Record) *string { return &r.ClinicianName }),
		"email":           text(func(r *assessment.Record) *string { return &r.ClinicianEmail }),
		"child.first":     text(func(r *assessment.Record) *string { return &r.ChildFirstName }),
		"child.last":      text(func(r *assessment.Record) *string { return &r.ChildLastName }),
		"age":             text(func(r *assessment.Record) *string { return &r.ChildAge }),
		"date":            text(func(r *assessment.Record) *string { return &r.AssessmentDate }),
		"clinical":        text(func(r *assessment.Record) *string { return &r.ClinicalObservations }),
		"strengths":       text(func(r *assessment.Record) *string { return &r.Strengths }),
		"priorities":      text(func(r *assessment.Record) *string { return &r.PriorityAreas }),
		"recommendations": text(func(r *assessment.Record) *string { return &r.Recommendations }),
		"referral":        text(func(r *assessment.Record) *string { return &r.ReferralNotes }),
	}
	domains := map[string]func(*assessment.Record) *assessment.Domain{
		"sensory":    func(r *assessment.Record) *assessment.Domain { return &r.Sensory },
		"social":     func(r *assessment.Record) *assessment.Domain { return &r.SocialCommunication },
		"restricted": func(r *assessment.Record) *assessment.Domain { return &r.RestrictedPatterns },
		"executive":  func(r *assessment.Record) *assessment.Domain { return &r.ExecutiveFunction },
	}
	for name, d := range domains {
		m[name+".score"] = score(d)
		m[name+".obs"] = observations(d)
	}
	return m
}()

func fieldNames() []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (a *app) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set CHATA-ID field=value...",
		Short: "Set fields on a draft",
		Long:  "Set fields on a draft. Fields: " + strings.Join(fieldNames(), ", "),
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			_, err = s.Update(args[0], func(r *assessment.Record) error {
				for _, kv := range args[1:] {
					name, value, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("expected field=value, got %q", kv)
					}
					set, ok := fields[strings.ToLower(name)]
					if !ok {
						return fmt.Errorf("unknown field %q", name)
					}
					if err := set(r, strings.TrimSpace(value)); err != nil {
						return fmt.Errorf("%s: %w", name, err)
					}
				}
				return nil
			})
			return err
		},
	}
}

func (a *app) milestoneCmd() *cobra.Command {
	var m assessment.Milestone
	var remove bool
	cmd := &cobra.Command{
		Use:   "milestone CHATA-ID",
		Short: "Place a milestone on the timeline, or remove it with --remove",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			_, err = s.Update(args[0], func(r *assessment.Record) error {
				kept := r.Milestones[:0]
				found := false
				for _, existing := range r.Milestones {
					if strings.EqualFold(existing.Name, m.Name) {
						found = true
						continue
					}
					kept = append(kept, existing)
				}
				r.Milestones = kept
				if remove {
					if !found {
						return fmt.Errorf("no milestone named %q", m.Name)
					}
					return nil
				}
				r.Milestones = append(r.Milestones, m)
				sort.SliceStable(r.Milestones, func(i, j int) bool {
					return r.Milestones[i].AgeMonths < r.Milestones[j].AgeMonths
				})
				return nil
			})
			return err
		},
	}
	cmd.Flags().StringVar(&m.Name, "name", "", "milestone name")
	cmd.Flags().StringVar(&m.Category, "category", "", "milestone category, e.g. motor, language, social")
	cmd.Flags().IntVar(&m.AgeMonths, "age", 0, "age in months")
	cmd.Flags().StringVar(&m.Status, "status", "achieved", "achieved, emerging or not_yet")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the named milestone")
	cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) imageCmd() *cobra.Command {
	var caption string
	cmd := &cobra.Command{
		Use:   "image CHATA-ID FILE",
		Short: "Attach a chart or timeline image to a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			name := filepath.Base(args[1])
			_, err = s.Update(args[0], func(r *assessment.Record) error {
				img := assessment.Image{Name: name, Caption: caption, Data: data}
				for i := range r.Images {
					if r.Images[i].Name == name {
						r.Images[i] = img
						return nil
					}
				}
				r.Images = append(r.Images, img)
				return nil
			})
			return err
		},
	}
	cmd.Flags().StringVar(&caption, "caption", "", "caption printed under the image")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show CHATA-ID",
		Short: "Print a draft as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			rec, err := s.Get(args[0])
			if err != nil {
				return err
			}
			// Image bytes are summarised, not dumped.
			type imageView struct {
				Name    string `json:"name"`
				Caption string `json:"caption"`
				Bytes   int    `json:"bytes"`
			}
			images := make([]imageView, len(rec.Images))
			for i, img := range rec.Images {
				images[i] = imageView{img.Name, img.Caption, len(img.Data)}
			}
			rec.Images = nil
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*assessment.Record
				Images []imageView `json:"images"`
			}{rec, images})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List drafts and submitted records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			recs, err := s.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHATA-ID\tCHILD\tCLINICIAN\tSTATUS\tUPDATED")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ChataID, r.ChildName(), r.ClinicianName, r.Status, r.UpdatedAt.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm CHATA-ID",
		Short: "Delete a local record; its CHATA-ID is never reissued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			return s.Delete(args[0])
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate CHATA-ID",
		Short: "Check a draft is ready to submit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			rec, err := s.Get(args[0])
			if err != nil {
				return err
			}
			if err := assessment.Validate(rec); err != nil {
				printValidation(a, err)
				return errors.New("draft is not ready")
			}
			fmt.Fprintf(a.out, "%s is ready to submit\n", rec.ChataID)
			return nil
		},
	}
}

func printValidation(a *app, err error) {
	var verr *assessment.ValidationError
	if !errors.As(err, &verr) {
		fmt.Fprintln(a.out, err)
		return
	}
	for _, f := range verr.Fields {
		fmt.Fprintf(a.out, "  %s: %s\n", f.Field, f.Message)
	}
}

func (a *app) submitCmd() *cobra.Command {
	var generate, wait bool
	var out string
	cmd := &cobra.Command{
		Use:   "submit CHATA-ID",
		Short: "Submit a finished draft to the report service",
		Long: `Submit marks the draft submitted, then posts it with its images. If the
service refuses it the draft is reopened so it can be fixed and resent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := a.openStore()
			if err != nil {
				return err
			}
			rec, err := s.Submit(args[0])
			if err != nil {
				printValidation(a, err)
				return fmt.Errorf("submit %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			res, err := c.Submit(ctx, rec, generate || wait)
			if err != nil {
				if _, rerr := s.Reopen(rec.ChataID); rerr != nil {
					a.log.Warn("reopen draft failed", "chata_id", rec.ChataID, "error", rerr)
				}
				printValidation(a, err)
				return fmt.Errorf("send %s: %w", rec.ChataID, err)
			}
			fmt.Fprintf(a.out, "submitted %s\n", res.ChataID)
			if res.Error != "" {
				fmt.Fprintf(a.out, "report not queued: %s\n", res.Error)
			}
			if res.JobID == "" {
				return nil
			}
			fmt.Fprintf(a.out, "report job %s\n", res.JobID)
			if !wait {
				return nil
			}
			return a.waitAndDownload(ctx, res.JobID, out)
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "queue the report straight away")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the report (implies --generate)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "save the finished report here")
	return cmd
}

func (a *app) attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach CHATA-ID FILE...",
		Short: "Upload supporting documents (referrals, prior reports) for a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()
			results, err := c.UploadDocuments(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
					fmt.Fprintf(a.out, "%s: %s\n", r.Filename, r.Error)
					continue
				}
				fmt.Fprintf(a.out, "%s: stored (%d bytes)\n", r.Filename, r.Bytes)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents were not stored", failed, len(results))
			}
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	var wait bool
	var out string
	cmd := &cobra.Command{
		Use:   "status JOB-ID",
		Short: "Show a report job, optionally waiting for it and saving the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait {
				return a.waitAndDownload(cmd.Context(), args[0], out)
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()
			snap, err := c.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(a, *snap)
			if snap.Status == pipeline.StatusCompleted && out != "" {
				return a.download(cmd.Context(), args[0], out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().StringVarP(&out, "output", "o", "", "save the finished report here")
	return cmd
}

func (a *app) idCmd() *cobra.Command {
	var clinician, child string
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Preview the CHATA-ID a clinician/child pair would get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			id, err := assessment.NewIDGenerator(s.UsedIDs(), nil).Generate(clinician, child)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&clinician, "clinician", "", "clinician name")
	cmd.Flags().StringVar(&child, "child", "", "child full name")
	return cmd
}

func (a *app) waitAndDownload(ctx context.Context, jobID, out string) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	defer c.Close()
	last := ""
	snap, err := c.Wait(ctx, jobID, 3*time.Second, func(s pipeline.JobSnapshot) {
		if s.Phase != last {
			last = s.Phase
			fmt.Fprintf(a.out, "[%3d%%] %s\n", s.Percent, s.Phase)
		}
	})
	if err != nil {
		return err
	}
	printJob(a, *snap)
	if snap.Status != pipeline.StatusCompleted {
		return fmt.Errorf("report job %s %s", jobID, snap.Status)
	}
	if out == "" {
		return nil
	}
	return a.download(ctx, jobID, out)
}

func (a *app) download(ctx context.Context, jobID, out string) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	defer c.Close()
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	n, err := c.Download(ctx, jobID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return err
	}
	fmt.Fprintf(a.out, "saved %s (%d bytes)\n", out, n)
	return nil
}

func printJob(a *app, s pipeline.JobSnapshot) {
	fmt.Fprintf(a.out, "job %s for %s: %s (%s, %d%%)\n", s.ID, s.ChataID, s.Status, s.Phase, s.Percent)
	for _, e := range s.Progress.Errors {
		fmt.Fprintf(a.out, "  error: %s\n", e)
	}
	if s.ReportPath != "" {
		fmt.Fprintf(a.out, "  report: %s\n", s.ReportPath)
	}
}
