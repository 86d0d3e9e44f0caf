package dispatch_test

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"testing"

	"github.com/okian/dispatch/internal/adapters/repository"
	"github.com/okian/dispatch/internal/domain/dispatch"
	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/heatmap"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/types"
	"github.com/okian/dispatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.WithWriter(io.Discard))
	os.Exit(m.Run())
}

func newRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	store := repository.NewTreapStore(context.Background(), repository.WithSeed(1))
	t.Cleanup(func() { _ = store.Close() })
	return dispatch.New(store)
}

func mustID(id types.ID, err error) types.ID {
	So(err, ShouldBeNil)
	So(id, ShouldNotBeEmpty)
	return id
}

func ptr(v float64) *float64 { return &v }

func TestRideScenario(t *testing.T) {
	Convey("Given a requester at the origin and a fulfiller at (50,50)", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "Rahim", "Banani", geo.Coordinates{X: 0, Y: 0}))
		fID := mustID(reg.AddFulfiller(ctx, "Karim", geo.Coordinates{X: 50, Y: 50}))

		Convey("When the requester asks for a ride with fare 100", func() {
			reqID := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{
				RequesterID: rID, Origin: "Banani", Destination: "Uttara", Fare: 100,
			}))

			Convey("Then the fulfiller sees it as pending", func() {
				pending, err := reg.ListPending(ctx, fID, dispatch.PendingFilter{})
				So(err, ShouldBeNil)
				So(pending, ShouldHaveLength, 1)
				So(pending[0].ID, ShouldEqual, reqID)
				So(pending[0].Amount, ShouldEqual, 100.0)
				So(pending[0].RequesterName, ShouldEqual, "Rahim")
				So(pending[0].Distance, ShouldAlmostEqual, math.Hypot(50, 50), 1e-9)
			})

			Convey("And the fulfiller accepts it", func() {
				So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: fID, RequestID: reqID}), ShouldBeNil)

				req, err := reg.Request(ctx, reqID)
				So(err, ShouldBeNil)
				So(req.Status, ShouldEqual, model.StatusAccepted)
				So(req.FulfillerID, ShouldEqual, fID)

				st, err := reg.FulfillerStats(ctx, fID)
				So(err, ShouldBeNil)
				So(st.Availability, ShouldEqual, string(model.Unavailable))
				So(st.CurrentRequest, ShouldEqual, reqID)

				pending, err := reg.ListPending(ctx, fID, dispatch.PendingFilter{})
				So(err, ShouldBeNil)
				So(pending, ShouldBeEmpty)

				Convey("And completes it", func() {
					So(reg.Complete(ctx, fID), ShouldBeNil)

					req, err := reg.Request(ctx, reqID)
					So(err, ShouldBeNil)
					So(req.Status, ShouldEqual, model.StatusCompleted)
					So(req.CompletedAt, ShouldNotBeNil)

					st, err := reg.FulfillerStats(ctx, fID)
					So(err, ShouldBeNil)
					So(st.Completed, ShouldEqual, 1)
					So(st.Availability, ShouldEqual, string(model.Available))
					So(st.CurrentRequest, ShouldBeEmpty)

					top, err := reg.TopN(ctx, 10)
					So(err, ShouldBeNil)
					So(top, ShouldResemble, []types.HeatmapEntry{{Rank: 1, Key: "Banani-Uttara", Count: 1}})

					Convey("And the requester rates it 5", func() {
						So(reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 5}), ShouldBeNil)

						Convey("Then the fulfiller's aggregate and the request reflect it", func() {
							st, err := reg.FulfillerStats(ctx, fID)
							So(err, ShouldBeNil)
							So(st.RatingTotal, ShouldEqual, 5.0)
							So(st.AverageRating, ShouldEqual, 5.0)

							u, err := reg.Requester(ctx, rID)
							So(err, ShouldBeNil)
							So(u.PendingReview, ShouldBeEmpty)
							So(u.ActiveRequest, ShouldBeEmpty)

							req, err := reg.Request(ctx, reqID)
							So(err, ShouldBeNil)
							So(*req.Rating, ShouldEqual, 5.0)
						})
					})
				})
			})
		})
	})
}

func TestOrderScenario(t *testing.T) {
	Convey("Given a venue at (100,100) with a menu", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "Nadia", "Gulshan", geo.Coordinates{}))
		fID := mustID(reg.AddFulfiller(ctx, "Driver", geo.Coordinates{X: 50, Y: 50}))
		vID := mustID(reg.AddVenue(ctx, "Pizza Hut", "Banani", geo.Coordinates{X: 100, Y: 100}))
		So(reg.AddMenuItem(ctx, vID, model.MenuItem{Name: "Pizza", Price: 60}), ShouldBeNil)
		So(reg.AddMenuItem(ctx, vID, model.MenuItem{Name: "Coke", Price: 40}), ShouldBeNil)

		menu, err := reg.Menu(ctx, vID)
		So(err, ShouldBeNil)
		So(menu, ShouldHaveLength, 2)

		Convey("When an order for the whole menu is placed", func() {
			reqID := mustID(reg.SubmitOrder(ctx, dispatch.SubmitOrderCommand{RequesterID: rID, VenueID: vID, Items: menu}))

			Convey("Then its amount is the sum of item prices and pickup is the venue", func() {
				req, err := reg.Request(ctx, reqID)
				So(err, ShouldBeNil)
				So(req.Kind, ShouldEqual, model.KindOrder)
				So(req.Amount, ShouldEqual, 100.0)
				So(req.Pickup, ShouldResemble, geo.Coordinates{X: 100, Y: 100})

				pending, err := reg.ListPending(ctx, fID, dispatch.PendingFilter{})
				So(err, ShouldBeNil)
				So(pending, ShouldHaveLength, 1)
				So(pending[0].VenueName, ShouldEqual, "Pizza Hut")
				So(pending[0].Distance, ShouldAlmostEqual, math.Hypot(50, 50), 1e-9)
			})

			Convey("And it is accepted, completed and rated for both parties", func() {
				So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: fID, RequestID: reqID}), ShouldBeNil)
				So(reg.Complete(ctx, fID), ShouldBeNil)
				So(reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 4, VenueRating: ptr(3)}), ShouldBeNil)

				Convey("Then every item is counted and the venue is rated", func() {
					top, err := reg.TopN(ctx, 10)
					So(err, ShouldBeNil)
					So(top, ShouldHaveLength, 2)
					So(top[0].Key, ShouldEqual, "Pizza Hut-Pizza")
					So(top[1].Key, ShouldEqual, "Pizza Hut-Coke")

					venues := reg.ListVenues(ctx)
					So(venues, ShouldHaveLength, 1)
					So(venues[0].CompletedOrders, ShouldEqual, 1)
					So(venues[0].AverageRating, ShouldEqual, 3.0)
					So(venues[0].MenuSize, ShouldEqual, 2)

					st, err := reg.FulfillerStats(ctx, fID)
					So(err, ShouldBeNil)
					So(st.AverageRating, ShouldEqual, 4.0)

					hist, err := reg.History(ctx, rID)
					So(err, ShouldBeNil)
					So(hist, ShouldHaveLength, 1)
					So(hist[0].VenueName, ShouldEqual, "Pizza Hut")
					So(hist[0].FulfillerName, ShouldEqual, "Driver")
					So(*hist[0].Rating, ShouldEqual, 4.0)
					So(*hist[0].VenueRating, ShouldEqual, 3.0)
				})
			})
		})

		Convey("When an order has no items", func() {
			_, err := reg.SubmitOrder(ctx, dispatch.SubmitOrderCommand{RequesterID: rID, VenueID: vID})

			Convey("Then it is rejected and the requester stays free", func() {
				So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
				u, err := reg.Requester(ctx, rID)
				So(err, ShouldBeNil)
				So(u.Busy(), ShouldBeFalse)
			})
		})

		Convey("When an order names an unknown venue", func() {
			_, err := reg.SubmitOrder(ctx, dispatch.SubmitOrderCommand{RequesterID: rID, VenueID: "nope", Items: menu})

			Convey("Then it is NotFound", func() {
				So(errors.Is(err, dispatch.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestRouteHeatmapIsDirectionless(t *testing.T) {
	Convey("Given two rides over the same road in opposite directions", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		a := mustID(reg.AddRequester(ctx, "A", "", geo.Coordinates{}))
		b := mustID(reg.AddRequester(ctx, "B", "", geo.Coordinates{X: 1}))
		f := mustID(reg.AddFulfiller(ctx, "F", geo.Coordinates{}))

		for _, ride := range []dispatch.SubmitRideCommand{
			{RequesterID: a, Origin: "Banani", Destination: "Uttara", Fare: 10},
			{RequesterID: b, Origin: "Uttara", Destination: "Banani", Fare: 12},
		} {
			id := mustID(reg.SubmitRide(ctx, ride))
			So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f, RequestID: id}), ShouldBeNil)
			So(reg.Complete(ctx, f), ShouldBeNil)
		}

		Convey("Then both count towards one key", func() {
			top, err := reg.TopN(ctx, 5)
			So(err, ShouldBeNil)
			So(top, ShouldResemble, []types.HeatmapEntry{{Rank: 1, Key: "Banani-Uttara", Count: 2}})

			c := reg.Counts(ctx)
			So(c.Completed, ShouldEqual, 2)
			So(c.HeatmapKeys, ShouldEqual, 1)
			So(c.HeatmapTotal, ShouldEqual, int64(2))
		})

		Convey("Then a negative limit is rejected", func() {
			_, err := reg.TopN(ctx, -1)
			So(errors.Is(err, heatmap.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("Then a zero limit yields nothing", func() {
			top, err := reg.TopN(ctx, 0)
			So(err, ShouldBeNil)
			So(top, ShouldBeEmpty)
		})
	})
}

func TestStateMachineErrors(t *testing.T) {
	Convey("Given one requester, two fulfillers and a pending ride", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "R", "", geo.Coordinates{}))
		f1 := mustID(reg.AddFulfiller(ctx, "F1", geo.Coordinates{X: 1}))
		f2 := mustID(reg.AddFulfiller(ctx, "F2", geo.Coordinates{X: 2}))
		reqID := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B", Fare: 5}))

		Convey("When the requester submits again", func() {
			_, err := reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "C", Destination: "D", Fare: 5})

			Convey("Then it is RequesterBusy and nothing is added", func() {
				So(errors.Is(err, dispatch.ErrRequesterBusy), ShouldBeTrue)
				So(reg.Counts(ctx).Requests, ShouldEqual, 1)
			})
		})

		Convey("When a second fulfiller accepts an already accepted request", func() {
			So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f1, RequestID: reqID}), ShouldBeNil)
			err := reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f2, RequestID: reqID})

			Convey("Then it is RequestNotPending and the first binding stands", func() {
				So(errors.Is(err, dispatch.ErrRequestNotPending), ShouldBeTrue)
				So(dispatch.IsConflict(err), ShouldBeTrue)
				req, err := reg.Request(ctx, reqID)
				So(err, ShouldBeNil)
				So(req.FulfillerID, ShouldEqual, f1)
				st, err := reg.FulfillerStats(ctx, f2)
				So(err, ShouldBeNil)
				So(st.Availability, ShouldEqual, string(model.Available))
			})
		})

		Convey("When a busy fulfiller tries to take a second request", func() {
			r2 := mustID(reg.AddRequester(ctx, "R2", "", geo.Coordinates{}))
			other := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: r2, Origin: "X", Destination: "Y", Fare: 1}))
			So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f1, RequestID: reqID}), ShouldBeNil)
			err := reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f1, RequestID: other})

			Convey("Then it is FulfillerBusy and the other request stays pending", func() {
				So(errors.Is(err, dispatch.ErrFulfillerBusy), ShouldBeTrue)
				req, err := reg.Request(ctx, other)
				So(err, ShouldBeNil)
				So(req.Status, ShouldEqual, model.StatusPending)
			})
		})

		Convey("When a fulfiller completes without an assignment", func() {
			err := reg.Complete(ctx, f2)

			Convey("Then it is NoCurrentAssignment", func() {
				So(errors.Is(err, dispatch.ErrNoCurrentAssignment), ShouldBeTrue)
			})
		})

		Convey("When complete is called twice", func() {
			So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f1, RequestID: reqID}), ShouldBeNil)
			So(reg.Complete(ctx, f1), ShouldBeNil)
			err := reg.Complete(ctx, f1)

			Convey("Then the second fails and nothing is double counted", func() {
				So(errors.Is(err, dispatch.ErrNoCurrentAssignment), ShouldBeTrue)
				st, err := reg.FulfillerStats(ctx, f1)
				So(err, ShouldBeNil)
				So(st.Completed, ShouldEqual, 1)
				So(reg.Counts(ctx).HeatmapTotal, ShouldEqual, int64(1))
			})
		})

		Convey("When accepting a completed request", func() {
			So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f1, RequestID: reqID}), ShouldBeNil)
			So(reg.Complete(ctx, f1), ShouldBeNil)
			err := reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f2, RequestID: reqID})

			Convey("Then it is RequestNotPending", func() {
				So(errors.Is(err, dispatch.ErrRequestNotPending), ShouldBeTrue)
			})
		})

		Convey("When ids are unknown", func() {
			_, err1 := reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: "ghost", Origin: "A", Destination: "B"})
			err2 := reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: "ghost", RequestID: reqID})
			err3 := reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f1, RequestID: "ghost"})
			err4 := reg.Complete(ctx, "ghost")
			err5 := reg.Rate(ctx, dispatch.RateCommand{RequesterID: "ghost", Rating: 3})
			_, err6 := reg.History(ctx, "ghost")
			_, err7 := reg.ListPending(ctx, "ghost", dispatch.PendingFilter{})
			_, err8 := reg.Menu(ctx, "ghost")

			Convey("Then each is NotFound", func() {
				for _, err := range []error{err1, err2, err3, err4, err5, err6, err7, err8} {
					So(errors.Is(err, dispatch.ErrNotFound), ShouldBeTrue)
				}
			})
		})
	})
}

func TestRateWithoutPendingReview(t *testing.T) {
	Convey("Given a requester with an accepted but not completed ride", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "R", "", geo.Coordinates{}))
		fID := mustID(reg.AddFulfiller(ctx, "F", geo.Coordinates{}))
		reqID := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B", Fare: 1}))
		So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: fID, RequestID: reqID}), ShouldBeNil)

		before, err := reg.FulfillerStats(ctx, fID)
		So(err, ShouldBeNil)

		Convey("When the requester rates", func() {
			err := reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 5})

			Convey("Then it is NoPendingReview and nothing changed", func() {
				So(errors.Is(err, dispatch.ErrNoPendingReview), ShouldBeTrue)

				after, err := reg.FulfillerStats(ctx, fID)
				So(err, ShouldBeNil)
				So(after, ShouldResemble, before)

				req, err := reg.Request(ctx, reqID)
				So(err, ShouldBeNil)
				So(req.Rating, ShouldBeNil)
			})
		})
	})
}

func TestRateValidation(t *testing.T) {
	Convey("Given a completed ride awaiting review", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "R", "", geo.Coordinates{}))
		fID := mustID(reg.AddFulfiller(ctx, "F", geo.Coordinates{}))
		reqID := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B", Fare: 1}))
		So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: fID, RequestID: reqID}), ShouldBeNil)
		So(reg.Complete(ctx, fID), ShouldBeNil)

		Convey("When the rating is out of range, NaN, or a venue rating is given for a ride", func() {
			errs := []error{
				reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 6}),
				reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: -1}),
				reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: math.NaN()}),
				reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 4, VenueRating: ptr(9)}),
				reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 4, VenueRating: ptr(4)}),
			}

			Convey("Then each is InvalidArgument and the review is still pending", func() {
				for _, err := range errs {
					So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
				}
				u, err := reg.Requester(ctx, rID)
				So(err, ShouldBeNil)
				So(u.PendingReview, ShouldResemble, []types.ID{reqID})

				So(reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 0}), ShouldBeNil)
			})
		})
	})
}

func TestReviewStackIsLIFO(t *testing.T) {
	Convey("Given two completed unrated rides by one requester", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "R", "", geo.Coordinates{}))
		f1 := mustID(reg.AddFulfiller(ctx, "First", geo.Coordinates{}))
		f2 := mustID(reg.AddFulfiller(ctx, "Second", geo.Coordinates{}))

		var ids []types.ID
		for _, f := range []types.ID{f1, f2} {
			id := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B", Fare: 1}))
			So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: f, RequestID: id}), ShouldBeNil)
			So(reg.Complete(ctx, f), ShouldBeNil)
			ids = append(ids, id)
		}

		Convey("When rating once", func() {
			So(reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 2}), ShouldBeNil)

			Convey("Then the most recent request and its fulfiller get it", func() {
				second, err := reg.Request(ctx, ids[1])
				So(err, ShouldBeNil)
				So(*second.Rating, ShouldEqual, 2.0)

				first, err := reg.Request(ctx, ids[0])
				So(err, ShouldBeNil)
				So(first.Rating, ShouldBeNil)

				st, err := reg.FulfillerStats(ctx, f2)
				So(err, ShouldBeNil)
				So(st.RatingCount, ShouldEqual, 1)
				st, err = reg.FulfillerStats(ctx, f1)
				So(err, ShouldBeNil)
				So(st.RatingCount, ShouldEqual, 0)
			})
		})
	})
}

func TestHistory(t *testing.T) {
	Convey("Given a requester with two rides", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "R", "", geo.Coordinates{}))
		fID := mustID(reg.AddFulfiller(ctx, "Karim", geo.Coordinates{}))

		first := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B", Fare: 10}))
		So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: fID, RequestID: first}), ShouldBeNil)
		So(reg.Complete(ctx, fID), ShouldBeNil)
		So(reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 5}), ShouldBeNil)
		second := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "B", Destination: "C", Fare: 20}))

		Convey("When reading the history", func() {
			hist, err := reg.History(ctx, rID)
			So(err, ShouldBeNil)

			Convey("Then it is newest first with fulfiller snapshots", func() {
				So(hist, ShouldHaveLength, 2)
				So(hist[0].RequestID, ShouldEqual, second)
				So(hist[0].Status, ShouldEqual, string(model.StatusPending))
				So(hist[0].FulfillerName, ShouldBeEmpty)
				So(hist[1].RequestID, ShouldEqual, first)
				So(hist[1].FulfillerName, ShouldEqual, "Karim")
				So(hist[1].FulfillerAverage, ShouldEqual, 5.0)
				So(hist[1].Amount, ShouldEqual, 10.0)
			})

			Convey("Then later ratings do not rewrite an earlier snapshot", func() {
				So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: fID, RequestID: second}), ShouldBeNil)
				So(reg.Complete(ctx, fID), ShouldBeNil)
				So(reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: 1}), ShouldBeNil)

				So(hist[1].FulfillerAverage, ShouldEqual, 5.0)
				So(hist[0].Status, ShouldEqual, string(model.StatusPending))

				fresh, err := reg.History(ctx, rID)
				So(err, ShouldBeNil)
				So(fresh[1].FulfillerAverage, ShouldEqual, 3.0)
				So(*fresh[0].Rating, ShouldEqual, 1.0)
			})

			Convey("Then mutating a snapshot does not reach the registry", func() {
				*hist[1].Rating = 0
				req, err := reg.Request(ctx, first)
				So(err, ShouldBeNil)
				So(*req.Rating, ShouldEqual, 5.0)
			})
		})
	})
}

func TestNearby(t *testing.T) {
	Convey("Given a requester at the origin and fulfillers around it", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "R", "", geo.Coordinates{}))
		far := mustID(reg.AddFulfiller(ctx, "far", geo.Coordinates{X: 30}))
		edge := mustID(reg.AddFulfiller(ctx, "edge", geo.Coordinates{X: 6, Y: 8}))
		beyond := mustID(reg.AddFulfiller(ctx, "beyond", geo.Coordinates{X: 10 + 1e-9}))
		near := mustID(reg.AddFulfiller(ctx, "near", geo.Coordinates{X: 1}))
		_ = far
		_ = beyond

		Convey("When searching within 10", func() {
			got, err := reg.NearbyFulfillers(ctx, dispatch.NearbyQuery{OriginID: rID, MaxDistance: 10})

			Convey("Then the edge is included, just beyond is not, order is registration order", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].ID, ShouldEqual, edge)
				So(got[0].Distance, ShouldEqual, 10.0)
				So(got[1].ID, ShouldEqual, near)
			})
		})

		Convey("When ranking globally", func() {
			got, err := reg.NearbyFulfillers(ctx, dispatch.NearbyQuery{OriginID: rID, MaxDistance: dispatch.Anywhere, Ranked: true})

			Convey("Then every fulfiller is returned closest first", func() {
				So(err, ShouldBeNil)
				names := make([]string, len(got))
				for i, c := range got {
					names[i] = c.Name
				}
				So(names, ShouldResemble, []string{"near", "edge", "beyond", "far"})
			})
		})

		Convey("When the nearest fulfiller is busy and only available ones are wanted", func() {
			other := mustID(reg.AddRequester(ctx, "O", "", geo.Coordinates{}))
			id := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: other, Origin: "A", Destination: "B"}))
			So(reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: near, RequestID: id}), ShouldBeNil)

			got, err := reg.NearbyFulfillers(ctx, dispatch.NearbyQuery{OriginID: rID, MaxDistance: 10, AvailableOnly: true})

			Convey("Then it is filtered out", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].ID, ShouldEqual, edge)
				So(got[0].Availability, ShouldEqual, string(model.Available))
			})
		})

		Convey("When nothing is in range", func() {
			got, err := reg.NearbyFulfillers(ctx, dispatch.NearbyQuery{OriginID: rID, MaxDistance: 0.5})

			Convey("Then the empty result is not an error", func() {
				So(err, ShouldBeNil)
				So(got, ShouldBeEmpty)
			})
		})

		Convey("When the radius is left at zero", func() {
			mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B"}))
			got, err := reg.NearbyFulfillers(ctx, dispatch.NearbyQuery{OriginID: rID})
			pending, perr := reg.ListPending(ctx, far, dispatch.PendingFilter{})

			Convey("Then it means no limit, as it does for pending requests", func() {
				So(err, ShouldBeNil)
				So(perr, ShouldBeNil)
				So(got, ShouldHaveLength, 4)
				So(pending, ShouldHaveLength, 1)
				So(pending[0].Distance, ShouldEqual, 30.0)
			})
		})

		Convey("When the radius is negative", func() {
			_, err := reg.NearbyFulfillers(ctx, dispatch.NearbyQuery{OriginID: rID, MaxDistance: -1})

			Convey("Then it is InvalidArgument", func() {
				So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
			})
		})

		Convey("When searching venues", func() {
			mustID(reg.AddVenue(ctx, "Far Cafe", "", geo.Coordinates{Y: 50}))
			mustID(reg.AddVenue(ctx, "Corner Shop", "", geo.Coordinates{Y: 2}))
			got, err := reg.NearbyVenues(ctx, dispatch.NearbyQuery{OriginID: rID, MaxDistance: 60, Ranked: true})

			Convey("Then they are ranked by distance", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].Name, ShouldEqual, "Corner Shop")
				So(got[1].Name, ShouldEqual, "Far Cafe")
			})
		})
	})
}

func TestListPendingFilter(t *testing.T) {
	Convey("Given pending rides from requesters at different distances", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		fID := mustID(reg.AddFulfiller(ctx, "F", geo.Coordinates{}))
		nearR := mustID(reg.AddRequester(ctx, "near", "", geo.Coordinates{X: 3, Y: 4}))
		farR := mustID(reg.AddRequester(ctx, "far", "", geo.Coordinates{X: 30, Y: 40}))
		farReq := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: farR, Origin: "A", Destination: "B"}))
		nearReq := mustID(reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: nearR, Origin: "C", Destination: "D"}))

		Convey("When listing without a filter", func() {
			got, err := reg.ListPending(ctx, fID, dispatch.PendingFilter{})

			Convey("Then all are listed in submission order", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].ID, ShouldEqual, farReq)
				So(got[1].ID, ShouldEqual, nearReq)
			})
		})

		Convey("When listing within 5", func() {
			got, err := reg.ListPending(ctx, fID, dispatch.PendingFilter{MaxDistance: 5})

			Convey("Then only the near pickup remains", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].ID, ShouldEqual, nearReq)
				So(got[0].Distance, ShouldEqual, 5.0)
			})
		})
	})
}

func TestInvalidArguments(t *testing.T) {
	Convey("Given a registry", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)
		rID := mustID(reg.AddRequester(ctx, "R", "", geo.Coordinates{}))
		vID := mustID(reg.AddVenue(ctx, "V", "", geo.Coordinates{}))

		Convey("Then malformed input is rejected", func() {
			_, err := reg.AddRequester(ctx, " ", "", geo.Coordinates{})
			So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
			_, err = reg.AddFulfiller(ctx, "F", geo.Coordinates{X: math.NaN()})
			So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
			_, err = reg.AddVenue(ctx, "", "", geo.Coordinates{})
			So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
			So(errors.Is(reg.AddMenuItem(ctx, vID, model.MenuItem{Name: "x", Price: -1}), dispatch.ErrInvalidArgument), ShouldBeTrue)
			So(errors.Is(reg.AddMenuItem(ctx, vID, model.MenuItem{Price: 1}), dispatch.ErrInvalidArgument), ShouldBeTrue)
			_, err = reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B", Fare: -5})
			So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
			_, err = reg.SubmitRide(ctx, dispatch.SubmitRideCommand{RequesterID: rID, Origin: "", Destination: "B"})
			So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)
			_, err = reg.SubmitOrder(ctx, dispatch.SubmitOrderCommand{RequesterID: rID, VenueID: vID, Items: []model.MenuItem{{Name: "x", Price: math.Inf(1)}}})
			So(errors.Is(err, dispatch.ErrInvalidArgument), ShouldBeTrue)

			So(reg.Counts(ctx), ShouldResemble, types.Counts{Requesters: 1, Venues: 1})
		})
	})
}

func TestExecute(t *testing.T) {
	Convey("Given bus commands", t, func() {
		ctx := context.Background()
		reg := newRegistry(t)

		Convey("When they are executed in sequence", func() {
			v, err := reg.Execute(ctx, model.NewCommand(dispatch.AddRequesterCommand{Name: "R"}))
			So(err, ShouldBeNil)
			rID := v.(types.ID)
			v, err = reg.Execute(ctx, model.NewCommand(dispatch.AddFulfillerCommand{Name: "F"}))
			So(err, ShouldBeNil)
			fID := v.(types.ID)
			v, err = reg.Execute(ctx, model.NewCommand(dispatch.SubmitRideCommand{RequesterID: rID, Origin: "A", Destination: "B", Fare: 3}))
			So(err, ShouldBeNil)
			reqID := v.(types.ID)
			_, err = reg.Execute(ctx, model.NewCommand(dispatch.AcceptCommand{FulfillerID: fID, RequestID: reqID}))
			So(err, ShouldBeNil)
			_, err = reg.Execute(ctx, model.NewCommand(dispatch.CompleteCommand{FulfillerID: fID}))
			So(err, ShouldBeNil)
			_, err = reg.Execute(ctx, model.NewCommand(dispatch.RateCommand{RequesterID: rID, Rating: 4}))
			So(err, ShouldBeNil)

			Convey("Then the registry reflects the whole lifecycle", func() {
				req, err := reg.Request(ctx, reqID)
				So(err, ShouldBeNil)
				So(req.Status, ShouldEqual, model.StatusCompleted)
				So(*req.Rating, ShouldEqual, 4.0)
			})
		})

		Convey("When the payload is unknown", func() {
			_, err := reg.Execute(ctx, model.NewCommand(42))

			Convey("Then it is ErrUnknownCommand", func() {
				So(errors.Is(err, dispatch.ErrUnknownCommand), ShouldBeTrue)
			})
		})
	})
}
