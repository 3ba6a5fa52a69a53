// Package l2frames owns Layer 2 (Frames) of the LiDAR data model.
//
// Responsibilities: turning decoded Velodyne data packets into Cartesian
// points, detecting the azimuth wrap that closes one sensor rotation, and
// handing each completed rotation on as a Frame.
// Key types: Point, Frame, Transform, Reconstructor.
//
// Dependency rule: L2 may depend on L1 (parse), but never on the pipeline or
// any sink.
package l2frames
